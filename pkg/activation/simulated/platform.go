package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// Options tunes the simulated platform.
type Options struct {
	// Latency is added to every provider call.
	Latency time.Duration `yaml:"latency"`

	// Domain is used to build database access URLs.
	Domain string `yaml:"domain"`
}

// DefaultOptions returns options for a zero-latency platform.
func DefaultOptions() Options {
	return Options{Domain: "dbaas.local"}
}

type appRecord struct {
	name    string
	running bool
}

// Platform is the in-memory provider state shared by all simulated services.
type Platform struct {
	mu   sync.Mutex
	opts Options

	apps      map[string]*appRecord
	routes    map[string]string // uri -> resource id
	spaces    map[string]string // resource id -> name
	orgs      map[string]string
	instances map[string]string // provider instance id -> plan
	ups       map[string]string

	requests  map[string]*dbRequest
	databases map[string]*dbRecord

	faults map[string]error
	calls  map[string]int
}

// NewPlatform creates an empty simulated platform.
func NewPlatform(opts Options) *Platform {
	if opts.Domain == "" {
		opts.Domain = DefaultOptions().Domain
	}
	return &Platform{
		opts:      opts,
		apps:      make(map[string]*appRecord),
		routes:    make(map[string]string),
		spaces:    make(map[string]string),
		orgs:      make(map[string]string),
		instances: make(map[string]string),
		ups:       make(map[string]string),
		requests:  make(map[string]*dbRequest),
		databases: make(map[string]*dbRecord),
		faults:    make(map[string]error),
		calls:     make(map[string]int),
	}
}

func operationKey(kind engine.ResourceKind, operation string) string {
	return string(kind) + "." + operation
}

// Fail makes every subsequent call of the operation on kind return err.
// Operations are activate, start, stop, delete, populate and provision.
// Provision failures are reported by database status polls.
func (p *Platform) Fail(kind engine.ResourceKind, operation string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[operationKey(kind, operation)] = err
}

// Heal clears every injected failure.
func (p *Platform) Heal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = make(map[string]error)
}

// Calls returns how many times the operation on kind was invoked.
func (p *Platform) Calls(kind engine.ResourceKind, operation string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[operationKey(kind, operation)]
}

// enter records the call, waits for the configured latency and returns the
// injected failure, if any. It must be called without the lock held.
func (p *Platform) enter(ctx context.Context, kind engine.ResourceKind, operation, target string) error {
	key := operationKey(kind, operation)

	p.mu.Lock()
	p.calls[key]++
	fault := p.faults[key]
	latency := p.opts.Latency
	p.mu.Unlock()

	telemetry.FromContext(ctx).Zerolog().Debug().
		Str("provider_operation", key).
		Str("target", target).
		Msg("simulated provider call")

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fault
}

func (p *Platform) fault(kind engine.ResourceKind, operation string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faults[operationKey(kind, operation)]
}

// Apps returns the application activation service.
func (p *Platform) Apps() engine.AppActivationService { return &appService{p} }

// Routes returns the route activation service.
func (p *Platform) Routes() engine.RouteActivationService { return &routeService{p} }

// Spaces returns the space activation service.
func (p *Platform) Spaces() engine.SpaceActivationService { return &spaceService{p} }

// Organizations returns the organization activation service.
func (p *Platform) Organizations() engine.OrganizationActivationService { return &orgService{p} }

// ManagedServices returns the marketplace service activation service.
func (p *Platform) ManagedServices() engine.ManagedServiceActivationService {
	return &managedService{p}
}

// UserProvidedServices returns the user-provided service activation service.
func (p *Platform) UserProvidedServices() engine.UserProvidedServiceActivationService {
	return &upsService{p}
}

// AppRunning reports whether the provider application exists and is started.
func (p *Platform) AppRunning(providerAppID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.apps[providerAppID]
	return ok && rec.running
}

// RouteBound reports whether a route is bound at the given URI.
func (p *Platform) RouteBound(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.routes[uri]
	return ok
}

func errNotFound(what, id string) error {
	return fmt.Errorf("%s %s not found", what, id)
}
