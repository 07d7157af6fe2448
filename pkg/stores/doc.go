// Package stores provides the persistence layer of the activator.
// It includes SQLite-based storage with WAL mode, embedded migrations and
// operations for environments, resources, tracked task statuses, events and
// audit logs. SQLiteStore serves as the engine.Repository of the lifecycle
// handlers and as the engine.TaskSink of the tracker.
package stores
