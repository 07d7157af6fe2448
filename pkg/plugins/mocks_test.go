package plugins

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
)

// Mock repository for testing
type memRepo struct {
	mu        sync.Mutex
	resources map[string]engine.Resource
	saves     int
	saveErr   error
}

func newMemRepo(resources ...engine.Resource) *memRepo {
	r := &memRepo{resources: make(map[string]engine.Resource)}
	for _, res := range resources {
		r.resources[res.Meta().ID] = res
	}
	return r
}

func (r *memRepo) Lookup(_ context.Context, id string) (engine.Resource, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	return res, ok, nil
}

func (r *memRepo) Save(_ context.Context, res engine.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.resources[res.Meta().ID] = res
	return nil
}

func (r *memRepo) state(id string) engine.ActivationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resources[id].Meta().ActivationState
}

// calls counts provider calls per operation.
type calls struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *calls) hit(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[op]++
}

func (c *calls) get(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

func (c *calls) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

type mockAppService struct {
	calls
	err error

	// seenURL is the binary URL the application carried on Activate.
	seenURL string
}

func (m *mockAppService) Activate(_ context.Context, app *engine.Application, _ engine.ActivationContext) (string, error) {
	m.hit("activate")
	m.seenURL = app.BinaryURL
	if m.err != nil {
		return "", m.err
	}
	return "provider-" + app.ID, nil
}

func (m *mockAppService) Start(context.Context, *engine.Application) error {
	m.hit("start")
	return m.err
}

func (m *mockAppService) Stop(context.Context, *engine.Application) error {
	m.hit("stop")
	return m.err
}

func (m *mockAppService) Delete(context.Context, *engine.Application) error {
	m.hit("delete")
	return m.err
}

type mockResolver struct {
	calls
	url string
	err error
}

func (m *mockResolver) Resolve(_ context.Context, _ engine.ArtifactRef) (string, error) {
	m.hit("resolve")
	return m.url, m.err
}

// mockSimpleService serves every activate/delete-only kind.
type mockSimpleService struct {
	calls
	activateErr error
	deleteErr   error
}

func (m *mockSimpleService) activate() error {
	m.hit("activate")
	return m.activateErr
}

func (m *mockSimpleService) delete() error {
	m.hit("delete")
	return m.deleteErr
}

type mockRouteService struct{ mockSimpleService }

func (m *mockRouteService) Activate(context.Context, *engine.Route, engine.ActivationContext) error {
	return m.activate()
}
func (m *mockRouteService) Delete(context.Context, *engine.Route) error { return m.delete() }

type mockSpaceService struct{ mockSimpleService }

func (m *mockSpaceService) Activate(context.Context, *engine.Space, engine.ActivationContext) error {
	return m.activate()
}
func (m *mockSpaceService) Delete(context.Context, *engine.Space) error { return m.delete() }

type mockOrgService struct{ mockSimpleService }

func (m *mockOrgService) Activate(context.Context, *engine.Organization, engine.ActivationContext) error {
	return m.activate()
}
func (m *mockOrgService) Delete(context.Context, *engine.Organization) error { return m.delete() }

type mockManagedService struct{ mockSimpleService }

func (m *mockManagedService) Activate(_ context.Context, ms *engine.ManagedService, _ engine.ActivationContext) (string, error) {
	if err := m.activate(); err != nil {
		return "", err
	}
	return "instance-" + ms.ID, nil
}
func (m *mockManagedService) Delete(context.Context, *engine.ManagedService) error { return m.delete() }

type mockUPSService struct{ mockSimpleService }

func (m *mockUPSService) Activate(context.Context, *engine.UserProvidedService, engine.ActivationContext) error {
	return m.activate()
}
func (m *mockUPSService) Delete(context.Context, *engine.UserProvidedService) error {
	return m.delete()
}

type mockDBService struct {
	calls
	mu sync.Mutex

	activateErr error
	deleteErr   error
	populateErr error

	// pending is the number of GetStatus calls reporting STARTED before completion.
	pending int
	failMsg string

	// unknown is the number of GetStatus calls answering with no status at all.
	unknown int

	populateRelease chan struct{}
}

func (m *mockDBService) Activate(_ context.Context, db *engine.Database, _ engine.ActivationContext) (string, error) {
	m.hit("activate")
	if m.activateErr != nil {
		return "", m.activateErr
	}
	return "corr-" + db.ID, nil
}

func (m *mockDBService) GetStatus(_ context.Context, correlation string) (*engine.ProviderStatus, error) {
	m.hit("get_status")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unknown > 0 {
		m.unknown--
		return nil, nil
	}
	if m.pending > 0 {
		m.pending--
		return &engine.ProviderStatus{State: engine.TaskStarted, PercentComplete: 50}, nil
	}
	if m.failMsg != "" {
		return &engine.ProviderStatus{State: engine.TaskFinishedFailed, ErrorMessage: m.failMsg}, nil
	}
	return &engine.ProviderStatus{State: engine.TaskFinishedOK, DatabaseID: "pdb-" + correlation}, nil
}

func (m *mockDBService) FetchDescription(_ context.Context, databaseID string) (*engine.DatabaseDescription, error) {
	m.hit("fetch_description")
	return &engine.DatabaseDescription{
		DatabaseID: databaseID,
		AccessURL:  "postgres://db.example.com/" + databaseID,
		Username:   "owner",
	}, nil
}

func (m *mockDBService) LaunchPopulationScript(context.Context, *engine.Database) error {
	m.hit("populate")
	if m.populateRelease != nil {
		<-m.populateRelease
	}
	return m.populateErr
}

func (m *mockDBService) Start(context.Context, *engine.Database) error {
	m.hit("start")
	return nil
}

func (m *mockDBService) Stop(context.Context, *engine.Database) error {
	m.hit("stop")
	return nil
}

func (m *mockDBService) Delete(context.Context, *engine.Database) error {
	m.hit("delete")
	return m.deleteErr
}

// fixture wires every handler over one repository and tracker.
type fixture struct {
	repo    *memRepo
	tracker *engine.Tracker
	common  Common

	apps     *mockAppService
	resolver *mockResolver
	routes   *mockRouteService
	spaces   *mockSpaceService
	orgs     *mockOrgService
	managed  *mockManagedService
	ups      *mockUPSService
	dbV1     *mockDBService

	dispatcher *Dispatcher
}

func newFixture(t *testing.T, resources ...engine.Resource) *fixture {
	t.Helper()
	repo := newMemRepo(resources...)
	tracker := engine.NewTracker(engine.TrackerConfig{Workers: 2, QueueSize: 8})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tracker.Close(ctx)
	})

	f := &fixture{
		repo:     repo,
		tracker:  tracker,
		common:   Common{Repository: repo, Tracker: tracker},
		apps:     &mockAppService{},
		resolver: &mockResolver{url: "https://artifacts.example.com/shop.jar"},
		routes:   &mockRouteService{},
		spaces:   &mockSpaceService{},
		orgs:     &mockOrgService{},
		managed:  &mockManagedService{},
		ups:      &mockUPSService{},
		dbV1:     &mockDBService{},
	}

	d, err := NewStandardDispatcher(f.common, Services{
		Apps:                 f.apps,
		Resolver:             f.resolver,
		Routes:               f.routes,
		Spaces:               f.spaces,
		Organizations:        f.orgs,
		ManagedServices:      f.managed,
		UserProvidedServices: f.ups,
		Databases:            map[string]engine.DatabaseActivationService{"v1": f.dbV1},
	})
	if err != nil {
		t.Fatalf("NewStandardDispatcher() error = %v", err)
	}
	f.dispatcher = d
	return f
}

// providerCalls is the number of provider calls across every service.
func (f *fixture) providerCalls() int {
	return f.apps.total() + f.resolver.total() + f.routes.total() + f.spaces.total() +
		f.orgs.total() + f.managed.total() + f.ups.total() + f.dbV1.total()
}

func pollUntilTerminal(t *testing.T, d engine.StepDispatcher, status *engine.TaskStatus) *engine.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !status.IsTerminal() {
		if time.Now().After(deadline) {
			t.Fatalf("task %s did not finish: %+v", status.TaskID, status)
		}
		status = d.Poll(context.Background(), status)
		time.Sleep(2 * time.Millisecond)
	}
	return status
}

func testApp(id string) *engine.Application {
	return &engine.Application{
		ResourceMeta: engine.ResourceMeta{ID: id, Kind: engine.KindApp, Name: "shop", ActivationState: engine.ActivationNotActivated},
		Artifact:     engine.ArtifactRef{GroupID: "com.example", ArtifactID: "shop", Version: "1.0.0"},
	}
}

func testRoute(id string) *engine.Route {
	return &engine.Route{
		ResourceMeta: engine.ResourceMeta{ID: id, Kind: engine.KindRoute, ActivationState: engine.ActivationNotActivated},
		Host:         "shop",
		Domain:       "apps.example.com",
	}
}

func testSpace(id string) *engine.Space {
	return &engine.Space{ResourceMeta: engine.ResourceMeta{ID: id, Kind: engine.KindSpace, Name: "dev-space", ActivationState: engine.ActivationNotActivated}}
}

func testDatabase(id, version string) *engine.Database {
	return &engine.Database{
		ResourceMeta: engine.ResourceMeta{ID: id, Kind: engine.KindDatabase, Name: "orders", ActivationState: engine.ActivationNotActivated},
		Version:      version,
		Engine:       "postgres",
	}
}

var errProvider = errors.New("provider unavailable")
