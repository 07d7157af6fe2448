package simulated

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
)

func testApp() *engine.Application {
	return &engine.Application{
		ResourceMeta: engine.ResourceMeta{ID: "a1", Kind: engine.KindApp, Name: "shop"},
		BinaryURL:    "https://repo.example.com/shop.jar",
	}
}

func TestAppLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(DefaultOptions())
	apps := p.Apps()
	app := testApp()

	id, err := apps.Activate(ctx, app, engine.ActivationContext{})
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if !strings.HasPrefix(id, "app-") {
		t.Errorf("Expected app- prefix, got %s", id)
	}
	app.ProviderAppID = id

	if err := apps.Start(ctx, app); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.AppRunning(id) {
		t.Error("Expected app to be running")
	}
	if err := apps.Stop(ctx, app); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.AppRunning(id) {
		t.Error("Expected app to be stopped")
	}

	if err := apps.Delete(ctx, app); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// Deleting again is a no-op
	if err := apps.Delete(ctx, app); err != nil {
		t.Errorf("Second delete should succeed, got %v", err)
	}
	if err := apps.Start(ctx, app); err == nil {
		t.Error("Expected start of deleted app to fail")
	}
	if got := p.Calls(engine.KindApp, "delete"); got != 2 {
		t.Errorf("Expected 2 delete calls, got %d", got)
	}
}

func TestAppActivateRequiresBinary(t *testing.T) {
	p := NewPlatform(DefaultOptions())
	app := testApp()
	app.BinaryURL = ""
	if _, err := p.Apps().Activate(context.Background(), app, engine.ActivationContext{}); err == nil {
		t.Error("Expected error for app without binary url")
	}
}

func TestRouteConflict(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(DefaultOptions())
	routes := p.Routes()

	first := &engine.Route{ResourceMeta: engine.ResourceMeta{ID: "r1"}, Host: "shop", Domain: "apps.example.com"}
	second := &engine.Route{ResourceMeta: engine.ResourceMeta{ID: "r2"}, Host: "shop", Domain: "apps.example.com"}

	if err := routes.Activate(ctx, first, engine.ActivationContext{}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := routes.Activate(ctx, second, engine.ActivationContext{}); err == nil {
		t.Error("Expected conflict for an already bound uri")
	}
	// Deleting a route that does not own the uri leaves the binding
	if err := routes.Delete(ctx, second); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !p.RouteBound(first.URI()) {
		t.Error("Expected first route to stay bound")
	}
	if err := routes.Delete(ctx, first); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if p.RouteBound(first.URI()) {
		t.Error("Expected route to be unbound")
	}
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(DefaultOptions())
	boom := errors.New("quota exceeded")

	p.Fail(engine.KindSpace, "activate", boom)
	space := &engine.Space{ResourceMeta: engine.ResourceMeta{ID: "s1", Name: "dev"}}
	if err := p.Spaces().Activate(ctx, space, engine.ActivationContext{}); !errors.Is(err, boom) {
		t.Errorf("Expected injected error, got %v", err)
	}

	p.Heal()
	if err := p.Spaces().Activate(ctx, space, engine.ActivationContext{}); err != nil {
		t.Errorf("Expected success after heal, got %v", err)
	}
	if got := p.Calls(engine.KindSpace, "activate"); got != 2 {
		t.Errorf("Expected 2 calls, got %d", got)
	}
}

func TestLatencyHonoursContext(t *testing.T) {
	p := NewPlatform(Options{Latency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	org := &engine.Organization{ResourceMeta: engine.ResourceMeta{ID: "o1", Name: "acme"}}
	if err := p.Organizations().Activate(ctx, org, engine.ActivationContext{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestManagedServiceRequiresPlan(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(DefaultOptions())
	svc := &engine.ManagedService{ResourceMeta: engine.ResourceMeta{ID: "m1", Name: "cache"}, Offering: "redis"}

	if _, err := p.ManagedServices().Activate(ctx, svc, engine.ActivationContext{}); err == nil {
		t.Error("Expected error without plan")
	}
	svc.Plan = "small"
	id, err := p.ManagedServices().Activate(ctx, svc, engine.ActivationContext{})
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if !strings.HasPrefix(id, "si-") {
		t.Errorf("Expected si- prefix, got %s", id)
	}
}

func TestDBaaSVersions(t *testing.T) {
	tests := []struct {
		name        string
		polls       int
		wantPercent []int
	}{
		{name: "v1 completes on first poll", polls: 0, wantPercent: nil},
		{name: "v2 completes after two polls", polls: 2, wantPercent: []int{33, 66}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := NewPlatform(DefaultOptions())
			dbaas := p.Databases("v", tt.polls)
			db := &engine.Database{ResourceMeta: engine.ResourceMeta{ID: "d1", Name: "orders"}}

			corr, err := dbaas.Activate(ctx, db, engine.ActivationContext{})
			if err != nil {
				t.Fatalf("Activate failed: %v", err)
			}

			for i, want := range tt.wantPercent {
				st, err := dbaas.GetStatus(ctx, corr)
				if err != nil {
					t.Fatalf("GetStatus failed: %v", err)
				}
				if st.State != engine.TaskStarted {
					t.Fatalf("poll %d: expected STARTED, got %s", i, st.State)
				}
				if st.PercentComplete != want {
					t.Errorf("poll %d: expected %d%%, got %d%%", i, want, st.PercentComplete)
				}
			}

			st, err := dbaas.GetStatus(ctx, corr)
			if err != nil {
				t.Fatalf("GetStatus failed: %v", err)
			}
			if st.State != engine.TaskFinishedOK || st.DatabaseID == "" {
				t.Fatalf("Expected completion with a database id, got %+v", st)
			}

			// Completion is stable
			again, _ := dbaas.GetStatus(ctx, corr)
			if again.DatabaseID != st.DatabaseID {
				t.Errorf("Expected stable database id, got %s then %s", st.DatabaseID, again.DatabaseID)
			}

			desc, err := dbaas.FetchDescription(ctx, st.DatabaseID)
			if err != nil {
				t.Fatalf("FetchDescription failed: %v", err)
			}
			if desc.Username != "orders_owner" {
				t.Errorf("Expected orders_owner, got %s", desc.Username)
			}
			if !strings.HasPrefix(desc.AccessURL, "postgresql://") {
				t.Errorf("Unexpected access url %s", desc.AccessURL)
			}
		})
	}
}

func TestDBaaSProvisionFailure(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(DefaultOptions())
	p.Fail(engine.KindDatabase, "provision", errors.New("no capacity in region"))
	dbaas := p.Databases(VersionV1, 0)

	corr, err := dbaas.Activate(ctx, &engine.Database{ResourceMeta: engine.ResourceMeta{Name: "orders"}}, engine.ActivationContext{})
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	st, err := dbaas.GetStatus(ctx, corr)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != engine.TaskFinishedFailed || st.ErrorMessage != "no capacity in region" {
		t.Errorf("Expected provider failure, got %+v", st)
	}

	if _, err := dbaas.GetStatus(ctx, "unknown"); err == nil {
		t.Error("Expected error for unknown correlation")
	}
}

func TestDBaaSDeleteUnknown(t *testing.T) {
	p := NewPlatform(DefaultOptions())
	err := p.Databases(VersionV1, 0).Delete(context.Background(), &engine.Database{ProviderDatabaseID: "db-404"})
	if err == nil {
		t.Fatal("Expected error deleting an unknown database")
	}
	if !strings.Contains(err.Error(), "No database found") {
		t.Errorf("Expected provider not-found message, got %v", err)
	}
}

func TestDBaaSPopulate(t *testing.T) {
	ctx := context.Background()
	p := NewPlatform(DefaultOptions())
	dbaas := p.Databases(VersionV1, 0)
	db := &engine.Database{ResourceMeta: engine.ResourceMeta{Name: "orders"}}

	if err := dbaas.LaunchPopulationScript(ctx, db); err == nil {
		t.Error("Expected populate of an unprovisioned database to fail")
	}

	corr, _ := dbaas.Activate(ctx, db, engine.ActivationContext{})
	st, _ := dbaas.GetStatus(ctx, corr)
	db.ProviderDatabaseID = st.DatabaseID

	if err := dbaas.LaunchPopulationScript(ctx, db); err != nil {
		t.Fatalf("LaunchPopulationScript failed: %v", err)
	}
	if !p.DatabasePopulated(st.DatabaseID) {
		t.Error("Expected database to be populated")
	}
	if err := dbaas.Stop(ctx, db); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := dbaas.Delete(ctx, db); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := dbaas.Start(ctx, db); err == nil {
		t.Error("Expected start of deleted database to fail")
	}
}

func TestDatabaseVersions(t *testing.T) {
	versions := NewPlatform(DefaultOptions()).DatabaseVersions(3)
	if len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(versions))
	}
	if versions[VersionV2].(*DBaaS).polls != 3 {
		t.Error("Expected v2 to complete after 3 polls")
	}
}

func TestResolver(t *testing.T) {
	shop := engine.ArtifactRef{GroupID: "com.example", ArtifactID: "shop", Version: "1.0.0"}

	tests := []struct {
		name     string
		resolver *Resolver
		ref      engine.ArtifactRef
		want     string
		notFound bool
	}{
		{
			name:     "open repository",
			resolver: NewResolver("https://repo.example.com/"),
			ref:      shop,
			want:     "https://repo.example.com/com/example/shop/1.0.0/shop-1.0.0.jar",
		},
		{
			name:     "classifier and extension",
			resolver: NewResolver("https://repo.example.com"),
			ref:      engine.ArtifactRef{GroupID: "com.example", ArtifactID: "shop", Version: "1.0.0", Classifier: "bin", Extension: "zip"},
			want:     "https://repo.example.com/com/example/shop/1.0.0/shop-1.0.0-bin.zip",
		},
		{
			name:     "unknown artifact",
			resolver: NewResolver("https://repo.example.com", shop),
			ref:      engine.ArtifactRef{GroupID: "com.example", ArtifactID: "billing", Version: "2.0"},
			notFound: true,
		},
		{
			name:     "incomplete coordinate",
			resolver: NewResolver("https://repo.example.com"),
			ref:      engine.ArtifactRef{GroupID: "com.example"},
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.resolver.Resolve(context.Background(), tt.ref)
			if tt.notFound {
				if !errors.Is(err, engine.ErrArtifactNotFound) {
					t.Errorf("Expected ErrArtifactNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolverPublish(t *testing.T) {
	billing := engine.ArtifactRef{GroupID: "com.example", ArtifactID: "billing", Version: "2.0"}
	r := NewResolver("https://repo.example.com", engine.ArtifactRef{GroupID: "com.example", ArtifactID: "shop", Version: "1.0.0"})
	if _, err := r.Resolve(context.Background(), billing); err == nil {
		t.Fatal("Expected billing to be unknown")
	}
	r.Publish(billing)
	if _, err := r.Resolve(context.Background(), billing); err != nil {
		t.Errorf("Expected published artifact to resolve, got %v", err)
	}
}
