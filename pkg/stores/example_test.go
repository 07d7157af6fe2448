package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CreateEnvironment demonstrates persisting an environment with its resources.
func ExampleSQLiteStore_CreateEnvironment() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	env := &engine.Environment{
		ID:                    "env-001",
		ReleaseID:             "shop-1.0",
		Type:                  engine.EnvironmentDevelopment,
		OwnerID:               "alice",
		Label:                 "shop-dev",
		State:                 engine.EnvironmentCreating,
		TechnicalDeploymentID: "td-001",
	}
	td := &engine.TechnicalDeployment{
		ResourceMeta: engine.ResourceMeta{ID: "td-001", Kind: engine.KindTechnicalDeployment, Name: "shop", EnvironmentID: env.ID},
	}

	if err := store.CreateEnvironment(ctx, env, []engine.Resource{td}); err != nil {
		log.Fatal(err)
	}

	// A second environment for the same release is refused
	dup := *env
	dup.ID = "env-002"
	err := store.CreateEnvironment(ctx, &dup, nil)
	fmt.Println(err != nil)

	live, found, _ := store.FindLiveEnvironment(ctx, "shop-1.0")
	fmt.Println(found, live.ID)
	// Output:
	// true
	// true env-001
}

// ExampleSQLiteStore_Lookup demonstrates the resource repository.
func ExampleSQLiteStore_Lookup() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	route := &engine.Route{
		ResourceMeta: engine.ResourceMeta{ID: "route-001", Kind: engine.KindRoute},
		Host:         "shop",
		Domain:       "apps.example.com",
	}
	if err := store.Save(ctx, route); err != nil {
		log.Fatal(err)
	}

	res, found, err := store.Lookup(ctx, "route-001")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(found, res.(*engine.Route).URI())

	_, found, _ = store.Lookup(ctx, "route-404")
	fmt.Println(found)
	// Output:
	// true shop.apps.example.com
	// false
}

// ExampleSQLiteStore_RecordTaskStatus demonstrates the tracker sink.
func ExampleSQLiteStore_RecordTaskStatus() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	status := engine.SucceededTask(engine.KindSpace, engine.StepActivate, "space-001", "Space dev has been activated.")
	if err := store.RecordTaskStatus(ctx, status); err != nil {
		log.Fatal(err)
	}

	got, err := store.GetTaskStatus(ctx, status.TaskID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(got.State, got.Title)
	// Output: FINISHED_OK Space dev has been activated.
}
