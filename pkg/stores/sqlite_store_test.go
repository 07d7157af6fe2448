package stores

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func testEnvironment(id, releaseID string) *engine.Environment {
	return &engine.Environment{
		ID:                    id,
		ReleaseID:             releaseID,
		Type:                  engine.EnvironmentDevelopment,
		OwnerID:               "alice",
		Label:                 "shop-dev",
		State:                 engine.EnvironmentCreating,
		TechnicalDeploymentID: "td-" + id,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	tables := []string{"environments", "resources", "task_statuses", "events", "audit"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

// TestStoreFileDatabase tests a file-backed store in WAL mode
func TestStoreFileDatabase(t *testing.T) {
	path := t.TempDir() + "/activator.db"
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	var mode string
	if err := store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal mode wal, got %s", mode)
	}
}

// TestResourceRepository tests Lookup and Save
func TestResourceRepository(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	_, found, err := store.Lookup(ctx, "missing")
	if err != nil {
		t.Fatalf("lookup of missing resource failed: %v", err)
	}
	if found {
		t.Error("expected missing resource to be absent")
	}

	app := &engine.Application{
		ResourceMeta: engine.ResourceMeta{ID: "app-001", Kind: engine.KindApp, Name: "shop"},
		Artifact:     engine.ArtifactRef{GroupID: "com.example", ArtifactID: "shop", Version: "1.0.0"},
		Instances:    2,
	}
	if err := store.Save(ctx, app); err != nil {
		t.Fatalf("failed to save resource: %v", err)
	}
	if app.ActivationState != engine.ActivationNotActivated {
		t.Errorf("expected default activation state, got %s", app.ActivationState)
	}

	res, found, err := store.Lookup(ctx, "app-001")
	if err != nil || !found {
		t.Fatalf("failed to lookup resource: %v (found=%v)", err, found)
	}
	loaded, ok := res.(*engine.Application)
	if !ok {
		t.Fatalf("expected *engine.Application, got %T", res)
	}
	if loaded.Artifact.ArtifactID != "shop" || loaded.Instances != 2 {
		t.Errorf("unexpected resource: %+v", loaded)
	}

	// Update
	loaded.ActivationState = engine.ActivationActivated
	loaded.BinaryURL = "https://artifacts.example.com/shop.jar"
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("failed to update resource: %v", err)
	}

	res, _, _ = store.Lookup(ctx, "app-001")
	updated := res.(*engine.Application)
	if updated.ActivationState != engine.ActivationActivated || updated.BinaryURL == "" {
		t.Errorf("update not persisted: %+v", updated)
	}
}

func TestResourceRepository_InvalidKind(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	err := store.Save(context.Background(), &engine.Organization{ResourceMeta: engine.ResourceMeta{ID: "o1", Kind: "queue"}})
	if err == nil {
		t.Error("expected error for invalid kind")
	}
}

// TestEnvironmentCRUD tests environment persistence
func TestEnvironmentCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env := testEnvironment("env-001", "rel-shop-1.0")
	td := &engine.TechnicalDeployment{
		ResourceMeta: engine.ResourceMeta{ID: "td-env-001", Kind: engine.KindTechnicalDeployment, Name: "shop", EnvironmentID: env.ID},
		Resources:    []engine.ResourceRef{{Kind: engine.KindSpace, ID: "space-001"}},
	}
	space := &engine.Space{ResourceMeta: engine.ResourceMeta{ID: "space-001", Kind: engine.KindSpace, Name: "dev", EnvironmentID: env.ID}}

	if err := store.CreateEnvironment(ctx, env, []engine.Resource{space, td}); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	got, err := store.GetEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to get environment: %v", err)
	}
	if got.ReleaseID != env.ReleaseID || got.State != engine.EnvironmentCreating || got.Type != engine.EnvironmentDevelopment {
		t.Errorf("unexpected environment: %+v", got)
	}

	resources, err := store.ListResourcesByEnvironment(ctx, env.ID)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}
	if len(resources) != 2 {
		t.Errorf("expected 2 resources, got %d", len(resources))
	}

	got.State = engine.EnvironmentRunning
	got.TaskID = "task-001"
	if err := store.UpdateEnvironment(ctx, got); err != nil {
		t.Fatalf("failed to update environment: %v", err)
	}
	again, _ := store.GetEnvironment(ctx, env.ID)
	if again.State != engine.EnvironmentRunning || again.TaskID != "task-001" {
		t.Errorf("update not persisted: %+v", again)
	}

	_, err = store.GetEnvironment(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	missing := testEnvironment("missing", "rel")
	if err := store.UpdateEnvironment(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}
}

// TestLiveEnvironmentPerRelease tests the one-live-environment-per-release index
func TestLiveEnvironmentPerRelease(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	first := testEnvironment("env-001", "rel-shop-1.0")
	if err := store.CreateEnvironment(ctx, first, nil); err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}

	second := testEnvironment("env-002", "rel-shop-1.0")
	err := store.CreateEnvironment(ctx, second, nil)
	if !errors.Is(err, ErrLiveEnvironmentExists) {
		t.Fatalf("expected ErrLiveEnvironmentExists, got %v", err)
	}

	live, found, err := store.FindLiveEnvironment(ctx, "rel-shop-1.0")
	if err != nil || !found || live.ID != first.ID {
		t.Fatalf("unexpected live environment: %+v, %v, %v", live, found, err)
	}

	first.State = engine.EnvironmentRemoved
	if err := store.UpdateEnvironment(ctx, first); err != nil {
		t.Fatalf("failed to remove environment: %v", err)
	}

	if _, found, _ := store.FindLiveEnvironment(ctx, "rel-shop-1.0"); found {
		t.Error("removed environment should not be live")
	}
	if err := store.CreateEnvironment(ctx, second, nil); err != nil {
		t.Errorf("expected create after removal to succeed: %v", err)
	}
}

// TestCreateEnvironmentRollback tests that a failing resource rolls back the environment
func TestCreateEnvironmentRollback(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	env := testEnvironment("env-001", "rel-shop-1.0")
	bad := &engine.Space{ResourceMeta: engine.ResourceMeta{ID: "s1", Kind: "bogus"}}
	if err := store.CreateEnvironment(ctx, env, []engine.Resource{bad}); err == nil {
		t.Fatal("expected create to fail")
	}
	if _, err := store.GetEnvironment(ctx, env.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("environment should have been rolled back, got %v", err)
	}
}

// TestListEnvironments tests filters and pagination
func TestListEnvironments(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for i, rel := range []string{"rel-a", "rel-b", "rel-c"} {
		env := testEnvironment("env-"+rel, rel)
		if i == 2 {
			env.OwnerID = "bob"
		}
		if err := store.CreateEnvironment(ctx, env, nil); err != nil {
			t.Fatalf("failed to create environment: %v", err)
		}
	}

	all, err := store.ListEnvironments(ctx, EnvironmentFilter{})
	if err != nil {
		t.Fatalf("failed to list environments: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 environments, got %d", len(all))
	}

	alice, _ := store.ListEnvironments(ctx, EnvironmentFilter{OwnerID: "alice"})
	if len(alice) != 2 {
		t.Errorf("expected 2 environments for alice, got %d", len(alice))
	}

	byRelease, _ := store.ListEnvironments(ctx, EnvironmentFilter{ReleaseID: "rel-b"})
	if len(byRelease) != 1 || byRelease[0].ReleaseID != "rel-b" {
		t.Errorf("unexpected release filter result: %+v", byRelease)
	}

	page, _ := store.ListEnvironments(ctx, EnvironmentFilter{Limit: 2})
	if len(page) != 2 {
		t.Errorf("expected page of 2, got %d", len(page))
	}

	running, _ := store.ListEnvironments(ctx, EnvironmentFilter{State: engine.EnvironmentRunning})
	if len(running) != 0 {
		t.Errorf("expected no running environments, got %d", len(running))
	}
}

// TestTaskStatusSink tests tracker snapshots
func TestTaskStatusSink(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	status := engine.StartedTask(engine.KindDatabase, engine.StepActivate, "db-001", "Database orders is being activated.")
	status.Correlation = "corr-001"
	if err := store.RecordTaskStatus(ctx, status); err != nil {
		t.Fatalf("failed to record task status: %v", err)
	}

	done := status.Clone()
	done.Succeed("Database orders has been activated.")
	if err := store.RecordTaskStatus(ctx, done); err != nil {
		t.Fatalf("failed to record terminal status: %v", err)
	}

	// A late non-terminal snapshot must not overwrite the terminal row
	if err := store.RecordTaskStatus(ctx, status); err != nil {
		t.Fatalf("failed to record late status: %v", err)
	}

	got, err := store.GetTaskStatus(ctx, status.TaskID)
	if err != nil {
		t.Fatalf("failed to get task status: %v", err)
	}
	if got.State != engine.TaskFinishedOK {
		t.Errorf("expected FINISHED_OK, got %s", got.State)
	}
	if got.Title != "Database orders has been activated." || got.Correlation != "corr-001" {
		t.Errorf("unexpected status: %+v", got)
	}
	if got.EndTime == nil {
		t.Error("expected end time to be persisted")
	}

	if _, err := store.GetTaskStatus(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestTaskStatusSinkWithTracker tests the store as a tracker sink
func TestTaskStatusSinkWithTracker(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	tracker := engine.NewTracker(engine.TrackerConfig{Sink: store})
	defer tracker.Close(ctx)

	status := engine.StartedTask(engine.KindApp, engine.StepStart, "app-001", "App shop")
	tracker.Register(ctx, status)
	tracker.Complete(ctx, status.TaskID, "App shop has been started.", nil)

	got, err := store.GetTaskStatus(ctx, status.TaskID)
	if err != nil {
		t.Fatalf("failed to get task status: %v", err)
	}
	if got.State != engine.TaskFinishedOK {
		t.Errorf("expected FINISHED_OK, got %s", got.State)
	}
}

// TestEventOperations tests the append-only event log
func TestEventOperations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	envID := "env-001"
	taskID := "task-001"

	events := []*Event{
		{Type: "task.started", Level: EventLevelInfo, TaskID: &taskID, EnvironmentID: &envID, Message: "started"},
		{Type: "task.failed", Level: EventLevelError, TaskID: &taskID, EnvironmentID: &envID, Message: "failed"},
		{Type: "environment.state_changed", Level: EventLevelInfo, Message: "other"},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if ev.ID == 0 || ev.EventID == "" {
			t.Errorf("expected generated ids, got %+v", ev)
		}
	}

	byEnv, err := store.GetEvents(ctx, EventFilter{EnvironmentID: &envID})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(byEnv) != 2 || byEnv[0].Message != "started" {
		t.Errorf("unexpected events: %+v", byEnv)
	}

	level := EventLevelError
	errorsOnly, _ := store.GetEvents(ctx, EventFilter{Level: &level})
	if len(errorsOnly) != 1 || errorsOnly[0].Type != "task.failed" {
		t.Errorf("unexpected error events: %+v", errorsOnly)
	}

	all, _ := store.GetEvents(ctx, EventFilter{Limit: 10})
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}
}

// TestRecordEvents tests the telemetry subscriber
func TestRecordEvents(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 8})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	store.RecordEvents(ctx, publisher)

	if err := publisher.PublishEnvironmentStateChanged("env-001", "CREATING", "RUNNING"); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	envID := "env-001"
	events, err := store.GetEvents(ctx, EventFilter{EnvironmentID: &envID})
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 || events[0].Type != telemetry.EventTypeEnvironmentStateChanged {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Details == nil {
		t.Error("expected event data to be stored as details")
	}
}

// TestAuditOperations tests audit trail operations
func TestAuditOperations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	target := "env-001"

	entries := []*AuditEntry{
		{Action: "environment.created", Actor: "alice", TargetID: &target, Timestamp: now},
		{Action: "environment.started", Actor: "alice", TargetID: &target, Timestamp: now.Add(time.Second)},
		{Action: "environment.deleted", Actor: "bob", TargetID: &target, Timestamp: now.Add(2 * time.Second)},
	}
	for _, entry := range entries {
		if err := store.CreateAuditEntry(ctx, entry); err != nil {
			t.Fatalf("failed to create audit entry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected audit entry ID to be set")
		}
	}

	all, err := store.ListAuditEntries(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 audit entries, got %d", len(all))
	}
	if all[0].Action != "environment.deleted" {
		t.Errorf("expected newest entry first, got %s", all[0].Action)
	}

	actor := "alice"
	byActor, _ := store.ListAuditEntries(ctx, nil, &actor, 10, 0)
	if len(byActor) != 2 {
		t.Errorf("expected 2 entries for alice, got %d", len(byActor))
	}

	action := "environment.deleted"
	byAction, _ := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if len(byAction) != 1 {
		t.Errorf("expected 1 deleted entry, got %d", len(byAction))
	}
}

// TestTransactions tests transaction rollback and commit
func TestTransactions(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	space := &engine.Space{ResourceMeta: engine.ResourceMeta{ID: "space-tx-001", Kind: engine.KindSpace, Name: "tx"}}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	if err := store.saveResource(ctx, tx, space); err != nil {
		store.RollbackTx(tx)
		t.Fatalf("failed to save resource in transaction: %v", err)
	}
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback transaction: %v", err)
	}

	if _, found, _ := store.Lookup(ctx, space.ID); found {
		t.Error("expected rolled back resource to be absent")
	}

	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin second transaction: %v", err)
	}
	if err := store.saveResource(ctx, tx, space); err != nil {
		store.RollbackTx(tx)
		t.Fatalf("failed to save resource in second transaction: %v", err)
	}
	if err := store.CommitTx(tx); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}

	if _, found, _ := store.Lookup(ctx, space.ID); !found {
		t.Error("expected committed resource to be present")
	}
}

// TestMain sets up and tears down test environment
func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}
