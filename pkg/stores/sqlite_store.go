package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath selects a private in-memory database.
const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var (
	_ Store             = (*SQLiteStore)(nil)
	_ engine.Repository = (*SQLiteStore)(nil)
	_ engine.TaskSink   = (*SQLiteStore)(nil)
)

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own empty database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection with WAL mode and foreign keys enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if dsn != memoryPath {
		dsn = "file:" + dsn
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Lookup implements engine.Repository. A missing resource is reported
// through the boolean.
func (s *SQLiteStore) Lookup(ctx context.Context, id string) (engine.Resource, bool, error) {
	query := `SELECT kind, payload FROM resources WHERE id = ?`

	var kind, payload string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&kind, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get resource: %w", err)
	}

	res, err := decodeResource(kind, payload)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Save implements engine.Repository, creating or replacing the resource.
func (s *SQLiteStore) Save(ctx context.Context, res engine.Resource) error {
	return s.saveResource(ctx, s.db, res)
}

func (s *SQLiteStore) saveResource(ctx context.Context, db execer, res engine.Resource) error {
	meta := res.Meta()
	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	if err := meta.Kind.Validate(); err != nil {
		return fmt.Errorf("failed to save resource %s: %w", meta.ID, err)
	}
	if meta.ActivationState == "" {
		meta.ActivationState = engine.ActivationNotActivated
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode resource %s: %w", meta.ID, err)
	}

	query := `
		INSERT INTO resources (id, kind, name, environment_id, activation_state, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			environment_id = excluded.environment_id,
			activation_state = excluded.activation_state,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		meta.ID,
		meta.Kind,
		meta.Name,
		nullString(meta.EnvironmentID),
		meta.ActivationState,
		string(payload),
		meta.CreatedAt,
		meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

// ListResourcesByEnvironment lists the resources owned by an environment
func (s *SQLiteStore) ListResourcesByEnvironment(ctx context.Context, environmentID string) ([]engine.Resource, error) {
	query := `
		SELECT kind, payload
		FROM resources
		WHERE environment_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []engine.Resource{}
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		res, err := decodeResource(kind, payload)
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

func decodeResource(kind, payload string) (engine.Resource, error) {
	res, err := engine.NewResource(engine.ResourceKind(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), res); err != nil {
		return nil, fmt.Errorf("failed to decode %s resource: %w", kind, err)
	}
	return res, nil
}

// CreateEnvironment persists the environment and its resources in one
// transaction. ErrLiveEnvironmentExists is returned when the release already
// has a live environment.
func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *engine.Environment, resources []engine.Resource) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	env.UpdatedAt = now

	query := `
		INSERT INTO environments (
			id, release_id, type, owner_id, label, state,
			technical_deployment_id, task_id, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		env.ID,
		env.ReleaseID,
		env.Type,
		env.OwnerID,
		env.Label,
		env.State,
		env.TechnicalDeploymentID,
		nullString(env.TaskID),
		nullString(env.ErrorMessage),
		env.CreatedAt,
		env.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create environment for release %s: %w", env.ReleaseID, ErrLiveEnvironmentExists)
		}
		return fmt.Errorf("failed to create environment: %w", err)
	}

	for _, res := range resources {
		if err := s.saveResource(ctx, tx, res); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit environment: %w", err)
	}
	return nil
}

const environmentColumns = `
	id, release_id, type, owner_id, label, state,
	technical_deployment_id, task_id, error_message, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*engine.Environment, error) {
	env := &engine.Environment{}
	var state string
	var taskID, errMsg *string
	err := row.Scan(
		&env.ID,
		&env.ReleaseID,
		&env.Type,
		&env.OwnerID,
		&env.Label,
		&state,
		&env.TechnicalDeploymentID,
		&taskID,
		&errMsg,
		&env.CreatedAt,
		&env.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	env.State = engine.ParseEnvironmentState(state)
	if taskID != nil {
		env.TaskID = *taskID
	}
	if errMsg != nil {
		env.ErrorMessage = *errMsg
	}
	return env, nil
}

// GetEnvironment retrieves an environment by ID
func (s *SQLiteStore) GetEnvironment(ctx context.Context, id string) (*engine.Environment, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE id = ?`

	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("environment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return env, nil
}

// FindLiveEnvironment returns the environment of the release that is not REMOVED, if any.
func (s *SQLiteStore) FindLiveEnvironment(ctx context.Context, releaseID string) (*engine.Environment, bool, error) {
	query := `SELECT ` + environmentColumns + ` FROM environments WHERE release_id = ? AND state <> ?`

	env, err := scanEnvironment(s.db.QueryRowContext(ctx, query, releaseID, engine.EnvironmentRemoved))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find live environment: %w", err)
	}
	return env, true, nil
}

// UpdateEnvironment updates the mutable fields of an environment
func (s *SQLiteStore) UpdateEnvironment(ctx context.Context, env *engine.Environment) error {
	query := `
		UPDATE environments
		SET state = ?, label = ?, task_id = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`

	env.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		env.State,
		env.Label,
		nullString(env.TaskID),
		nullString(env.ErrorMessage),
		env.UpdatedAt,
		env.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update environment %s: %w", env.ID, ErrLiveEnvironmentExists)
		}
		return fmt.Errorf("failed to update environment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("environment %s: %w", env.ID, ErrNotFound)
	}

	return nil
}

// ListEnvironments lists environments with optional filters and pagination
func (s *SQLiteStore) ListEnvironments(ctx context.Context, filter EnvironmentFilter) ([]*engine.Environment, error) {
	query := `
		SELECT ` + environmentColumns + `
		FROM environments
		WHERE (? = '' OR release_id = ?)
		  AND (? = '' OR owner_id = ?)
		  AND (? = '' OR state = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.ReleaseID, filter.ReleaseID,
		filter.OwnerID, filter.OwnerID,
		string(filter.State), string(filter.State),
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	envs := []*engine.Environment{}
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return envs, nil
}

// RecordTaskStatus implements engine.TaskSink. A terminal row is never
// overwritten by a later snapshot.
func (s *SQLiteStore) RecordTaskStatus(ctx context.Context, status *engine.TaskStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode task status %s: %w", status.TaskID, err)
	}

	query := `
		INSERT INTO task_statuses (
			task_id, resource_kind, resource_id, step, state, title,
			error_message, start_time, end_time, payload, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state = excluded.state,
			title = excluded.title,
			error_message = excluded.error_message,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			payload = excluded.payload,
			updated_at = excluded.updated_at
		WHERE task_statuses.state NOT IN (?, ?)
	`

	var startTime *time.Time
	if !status.StartTime.IsZero() {
		startTime = &status.StartTime
	}

	_, err = s.db.ExecContext(ctx, query,
		status.TaskID,
		nullString(string(status.ResourceKind)),
		nullString(status.ResourceID),
		nullString(string(status.Step)),
		status.State,
		nullString(status.Title),
		nullString(status.ErrorMessage),
		startTime,
		status.EndTime,
		string(payload),
		time.Now().UTC(),
		engine.TaskFinishedOK,
		engine.TaskFinishedFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to record task status: %w", err)
	}
	return nil
}

// GetTaskStatus retrieves the last recorded snapshot of a task
func (s *SQLiteStore) GetTaskStatus(ctx context.Context, taskID string) (*engine.TaskStatus, error) {
	query := `SELECT payload FROM task_statuses WHERE task_id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, taskID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	status := &engine.TaskStatus{}
	if err := json.Unmarshal([]byte(payload), status); err != nil {
		return nil, fmt.Errorf("failed to decode task status %s: %w", taskID, err)
	}
	return status, nil
}

// AppendEvent appends a new event to the event log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (event_id, type, level, task_id, environment_id, resource_id, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Level,
		event.TaskID,
		event.EnvironmentID,
		event.ResourceID,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := `
		SELECT id, event_id, type, level, task_id, environment_id, resource_id, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR task_id = ?)
		  AND (? IS NULL OR environment_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.TaskID, filter.TaskID,
		filter.EnvironmentID, filter.EnvironmentID,
		filter.Level, filter.Level,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Level,
			&event.TaskID,
			&event.EnvironmentID,
			&event.ResourceID,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// RecordEvents subscribes the store to the publisher so every telemetry
// event is appended to the event log.
func (s *SQLiteStore) RecordEvents(ctx context.Context, publisher *telemetry.EventPublisher) {
	if publisher == nil {
		return
	}
	logger := telemetry.FromContext(ctx)
	publisher.Subscribe(func(ev telemetry.Event) {
		if err := s.AppendEvent(context.WithoutCancel(ctx), fromTelemetryEvent(ev)); err != nil {
			logger.WithError(err).Warn("failed to record event")
		}
	}, nil)
}

func fromTelemetryEvent(ev telemetry.Event) *Event {
	event := &Event{
		EventID:       ev.ID,
		Type:          ev.Type,
		Level:         EventLevel(ev.Level),
		TaskID:        nullString(ev.TaskID),
		EnvironmentID: nullString(ev.EnvironmentID),
		ResourceID:    nullString(ev.ResourceID),
		Message:       ev.Message,
		Timestamp:     ev.Timestamp,
	}
	if len(ev.Data) > 0 {
		if raw, err := json.Marshal(ev.Data); err == nil {
			details := string(raw)
			event.Details = &details
		}
	}
	return event
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
