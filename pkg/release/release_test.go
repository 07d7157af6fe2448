package release

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
)

func loadShop(t *testing.T) *Catalog {
	t.Helper()
	catalog := NewCatalog("testdata")
	if err := catalog.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	return catalog
}

func TestLoadFromFile(t *testing.T) {
	rel, err := NewLoader().LoadFromFile(filepath.Join("testdata", "shop.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if rel.ID != "shop-1.0" {
		t.Errorf("Expected ID shop-1.0, got %s", rel.ID)
	}
	if len(rel.Resources) != 6 {
		t.Errorf("Expected 6 resources, got %d", len(rel.Resources))
	}
	if rel.Resources[0].App.Artifact.String() != "com.example:shop:jar:1.0.0" {
		t.Errorf("Unexpected artifact %s", rel.Resources[0].App.Artifact)
	}
	if rel.Overrides[engine.EnvironmentProduction].Instances != 4 {
		t.Error("Expected production override of 4 instances")
	}
	if rel.Path == "" {
		t.Error("Expected path to be recorded")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "id: [",
			wantErr: "failed to parse",
		},
		{
			name: "missing id",
			yaml: `
name: shop
version: "1"
resources:
  - {name: dev, kind: space}
`,
			wantErr: "ID",
		},
		{
			name: "unknown kind",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - {name: dev, kind: cluster}
`,
			wantErr: "Kind",
		},
		{
			name: "no resources",
			yaml: `
id: shop-1
name: shop
version: "1"
`,
			wantErr: "Resources",
		},
		{
			name: "route without section",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - {name: www, kind: route}
`,
			wantErr: "Route",
		},
		{
			name: "duplicate name",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - {name: dev, kind: space}
  - {name: dev, kind: organization}
`,
			wantErr: "duplicate resource name",
		},
		{
			name: "unknown reference",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - name: www
    kind: route
    route: {host: shop, domain: apps.example.com, app: missing}
`,
			wantErr: "unknown resource missing",
		},
		{
			name: "reference of the wrong kind",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - {name: dev, kind: space}
  - name: www
    kind: route
    route: {host: shop, domain: apps.example.com, app: dev}
`,
			wantErr: "of kind space",
		},
		{
			name: "invalid override",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - {name: dev, kind: space}
overrides:
  STAGING: {instances: 2}
`,
			wantErr: "invalid environment type",
		},
		{
			name: "uppercase resource name",
			yaml: `
id: shop-1
name: shop
version: "1"
resources:
  - {name: Dev, kind: space}
`,
			wantErr: "Name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	catalog := loadShop(t)

	if got := len(catalog.List()); got != 1 {
		t.Fatalf("Expected 1 release, got %d", got)
	}
	if _, err := catalog.Get("shop-1.0"); err != nil {
		t.Errorf("Get failed: %v", err)
	}
	if _, err := catalog.Get("billing-2.0"); !errors.Is(err, ErrUnknownRelease) {
		t.Errorf("Expected ErrUnknownRelease, got %v", err)
	}

	rel := &Release{
		ID: "billing-2.0", Name: "billing", Version: "2.0",
		Resources: []ResourceSpec{{Name: "dev", Kind: engine.KindSpace}},
	}
	if err := catalog.Register(rel); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	list := catalog.List()
	if len(list) != 2 || list[0].ID != "billing-2.0" {
		t.Errorf("Expected releases sorted by ID, got %d releases", len(list))
	}

	if err := catalog.Register(&Release{ID: "bad"}); err == nil {
		t.Error("Expected invalid release to be rejected")
	}
}

func TestCatalogDuplicateID(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("testdata", "shop.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Non-descriptor files are ignored
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# releases"), 0o644); err != nil {
		t.Fatal(err)
	}

	err = NewCatalog(dir).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "defined in both") {
		t.Errorf("Expected duplicate release error, got %v", err)
	}
}

func TestCatalogWatch(t *testing.T) {
	dir := t.TempDir()
	catalog := NewCatalog(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := catalog.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	reloaded := make(chan error, 4)
	if err := catalog.Watch(ctx, 20*time.Millisecond, func(err error) { reloaded <- err }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join("testdata", "shop.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shop.yaml"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("Reload failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
	if _, err := catalog.Get("shop-1.0"); err != nil {
		t.Errorf("Expected release after reload: %v", err)
	}
}

func TestProject(t *testing.T) {
	projector := NewProjector(loadShop(t))

	proj, err := projector.Project("shop-1.0", engine.EnvironmentDevelopment, "env-1")
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}

	position := make(map[string]int)
	byName := make(map[string]engine.Resource)
	for i, res := range proj.Resources {
		meta := res.Meta()
		position[meta.Name] = i
		byName[meta.Name] = res
		if meta.EnvironmentID != "env-1" {
			t.Errorf("%s: expected environment env-1, got %s", meta.Name, meta.EnvironmentID)
		}
		if meta.ActivationState != engine.ActivationNotActivated {
			t.Errorf("%s: expected NOT_ACTIVATED, got %s", meta.Name, meta.ActivationState)
		}
	}

	before := [][2]string{
		{"acme", "dev-space"},
		{"dev-space", "shop"},
		{"orders", "shop"},
		{"mail", "shop"},
		{"shop", "www"},
	}
	for _, pair := range before {
		if position[pair[0]] >= position[pair[1]] {
			t.Errorf("Expected %s before %s", pair[0], pair[1])
		}
	}

	td := proj.TechnicalDeployment
	if td.Name != "shop-1.0.0" || td.Kind != engine.KindTechnicalDeployment {
		t.Errorf("Unexpected technical deployment %s (%s)", td.Name, td.Kind)
	}
	if len(td.Resources) != len(proj.Resources) {
		t.Fatalf("Expected %d refs, got %d", len(proj.Resources), len(td.Resources))
	}
	for i, ref := range td.Resources {
		if ref.ID != proj.Resources[i].Meta().ID {
			t.Errorf("ref %d does not follow resource order", i)
		}
	}
	if len(proj.All()) != len(proj.Resources)+1 {
		t.Error("Expected All to include the technical deployment")
	}

	app := byName["shop"].(*engine.Application)
	if app.SpaceID != byName["dev-space"].Meta().ID {
		t.Error("Expected app in the default space")
	}
	if len(app.BoundServices) != 2 || app.BoundServices[0] != byName["orders"].Meta().ID {
		t.Errorf("Unexpected bound services %v", app.BoundServices)
	}
	if app.Instances != 1 || app.MemoryMB != 512 {
		t.Errorf("Expected base sizing, got %d x %dMB", app.Instances, app.MemoryMB)
	}

	route := byName["www"].(*engine.Route)
	if route.AppID != app.ID || route.URI() != "shop.apps.example.com" {
		t.Errorf("Unexpected route %s -> %s", route.URI(), route.AppID)
	}
	if space := byName["dev-space"].(*engine.Space); space.OrganizationID != byName["acme"].Meta().ID {
		t.Error("Expected space in the default organization")
	}
	if db := byName["orders"].(*engine.Database); db.Version != "v1" || db.PopulationScriptURL == "" {
		t.Errorf("Unexpected database %+v", db)
	}
}

func TestProjectOverrides(t *testing.T) {
	proj, err := NewProjector(loadShop(t)).Project("shop-1.0", engine.EnvironmentProduction, "env-2")
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	for _, res := range proj.Resources {
		if app, ok := res.(*engine.Application); ok {
			if app.Instances != 4 || app.MemoryMB != 1024 {
				t.Errorf("Expected production sizing, got %d x %dMB", app.Instances, app.MemoryMB)
			}
		}
	}
}

func TestProjectFreshIDs(t *testing.T) {
	projector := NewProjector(loadShop(t))
	first, _ := projector.Project("shop-1.0", engine.EnvironmentTest, "env-1")
	second, _ := projector.Project("shop-1.0", engine.EnvironmentTest, "env-2")
	if first.TechnicalDeployment.ID == second.TechnicalDeployment.ID {
		t.Error("Expected fresh identifiers per projection")
	}
}

func TestProjectErrors(t *testing.T) {
	projector := NewProjector(loadShop(t))

	if _, err := projector.Project("unknown", engine.EnvironmentTest, "env-1"); !errors.Is(err, ErrUnknownRelease) {
		t.Errorf("Expected ErrUnknownRelease, got %v", err)
	}
	if _, err := projector.Project("shop-1.0", engine.EnvironmentType("STAGING"), "env-1"); !engine.IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	cyclic := &Release{
		ID: "cyclic-1", Name: "cyclic", Version: "1",
		Resources: []ResourceSpec{
			{Name: "a", Kind: engine.KindOrganization, DependsOn: []string{"b"}},
			{Name: "b", Kind: engine.KindOrganization, DependsOn: []string{"a"}},
		},
	}
	catalog := loadShop(t)
	if err := catalog.Register(cyclic); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := NewProjector(catalog).Project("cyclic-1", engine.EnvironmentTest, "env-1"); err == nil {
		t.Error("Expected cycle to be rejected")
	}
}

func TestProjectorGraph(t *testing.T) {
	projector := NewProjector(loadShop(t))

	dot, err := projector.Graph("shop-1.0", engine.EnvironmentDevelopment)
	if err != nil {
		t.Fatalf("Graph failed: %v", err)
	}
	for _, edge := range []string{`"shop" -> "www"`, `"orders" -> "shop"`, `"mail" -> "shop"`} {
		if !strings.Contains(dot, edge) {
			t.Errorf("expected edge %s in:\n%s", edge, dot)
		}
	}

	if _, err := projector.Graph("missing-1.0", engine.EnvironmentDevelopment); !errors.Is(err, ErrUnknownRelease) {
		t.Errorf("expected ErrUnknownRelease, got %v", err)
	}
}
