package simulated

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openfroyo/activator/pkg/engine"
)

// DBaaS versions offered by the simulated platform.
const (
	VersionV1 = "v1"
	VersionV2 = "v2"
)

type dbRequest struct {
	name      string
	engine    string
	remaining int
	total     int
	dbID      string
}

type dbRecord struct {
	name      string
	engine    string
	running   bool
	populated bool
}

// DBaaS is a simulated database provider for one version tag.
type DBaaS struct {
	p       *Platform
	version string

	// polls is the number of GetStatus calls answered STARTED before completion.
	polls int
}

var _ engine.DatabaseActivationService = (*DBaaS)(nil)

// Databases returns the DBaaS service for version. Activations complete on
// the poll following polls in-progress answers; zero completes on the first poll.
func (p *Platform) Databases(version string, polls int) *DBaaS {
	if polls < 0 {
		polls = 0
	}
	return &DBaaS{p: p, version: version, polls: polls}
}

// DatabaseVersions returns the standard v1 and v2 services. v2 completes
// after v2Polls in-progress answers.
func (p *Platform) DatabaseVersions(v2Polls int) map[string]engine.DatabaseActivationService {
	return map[string]engine.DatabaseActivationService{
		VersionV1: p.Databases(VersionV1, 0),
		VersionV2: p.Databases(VersionV2, v2Polls),
	}
}

// Version returns the version tag served.
func (d *DBaaS) Version() string { return d.version }

// Activate records a provisioning request and returns its correlation handle.
func (d *DBaaS) Activate(ctx context.Context, db *engine.Database, _ engine.ActivationContext) (string, error) {
	if err := d.p.enter(ctx, engine.KindDatabase, "activate", db.Name); err != nil {
		return "", err
	}
	if db.Name == "" {
		return "", fmt.Errorf("database name is required")
	}
	corr := d.version + "-req-" + uuid.New().String()

	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	d.p.requests[corr] = &dbRequest{
		name:      db.Name,
		engine:    db.Engine,
		remaining: d.polls,
		total:     d.polls,
	}
	return corr, nil
}

// GetStatus reports the progress of a provisioning request.
func (d *DBaaS) GetStatus(ctx context.Context, correlation string) (*engine.ProviderStatus, error) {
	if err := d.p.enter(ctx, engine.KindDatabase, "status", correlation); err != nil {
		return nil, err
	}
	provisionErr := d.p.fault(engine.KindDatabase, "provision")

	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	req, ok := d.p.requests[correlation]
	if !ok {
		return nil, errNotFound("provisioning request", correlation)
	}

	if req.dbID != "" {
		return &engine.ProviderStatus{State: engine.TaskFinishedOK, PercentComplete: 100, DatabaseID: req.dbID}, nil
	}
	if req.remaining > 0 {
		req.remaining--
		done := req.total - req.remaining
		return &engine.ProviderStatus{
			State:           engine.TaskStarted,
			PercentComplete: done * 100 / (req.total + 1),
		}, nil
	}
	if provisionErr != nil {
		return &engine.ProviderStatus{State: engine.TaskFinishedFailed, ErrorMessage: provisionErr.Error()}, nil
	}

	req.dbID = "db-" + uuid.New().String()
	d.p.databases[req.dbID] = &dbRecord{name: req.name, engine: req.engine, running: true}
	return &engine.ProviderStatus{State: engine.TaskFinishedOK, PercentComplete: 100, DatabaseID: req.dbID}, nil
}

// FetchDescription returns the access details of a provisioned database.
func (d *DBaaS) FetchDescription(ctx context.Context, databaseID string) (*engine.DatabaseDescription, error) {
	if err := d.p.enter(ctx, engine.KindDatabase, "describe", databaseID); err != nil {
		return nil, err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	rec, ok := d.p.databases[databaseID]
	if !ok {
		return nil, noDatabase(databaseID)
	}
	eng := rec.engine
	if eng == "" {
		eng = "postgresql"
	}
	return &engine.DatabaseDescription{
		DatabaseID: databaseID,
		AccessURL:  fmt.Sprintf("%s://%s.%s:5432/%s", strings.ToLower(eng), databaseID, d.p.opts.Domain, rec.name),
		Username:   rec.name + "_owner",
		Engine:     eng,
	}, nil
}

// LaunchPopulationScript runs the database's population script.
func (d *DBaaS) LaunchPopulationScript(ctx context.Context, db *engine.Database) error {
	if err := d.p.enter(ctx, engine.KindDatabase, "populate", db.Name); err != nil {
		return err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	rec, ok := d.p.databases[db.ProviderDatabaseID]
	if !ok {
		return noDatabase(db.ProviderDatabaseID)
	}
	rec.populated = true
	return nil
}

// Start starts the database.
func (d *DBaaS) Start(ctx context.Context, db *engine.Database) error {
	return d.setRunning(ctx, db, "start", true)
}

// Stop stops the database.
func (d *DBaaS) Stop(ctx context.Context, db *engine.Database) error {
	return d.setRunning(ctx, db, "stop", false)
}

func (d *DBaaS) setRunning(ctx context.Context, db *engine.Database, operation string, running bool) error {
	if err := d.p.enter(ctx, engine.KindDatabase, operation, db.Name); err != nil {
		return err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	rec, ok := d.p.databases[db.ProviderDatabaseID]
	if !ok {
		return noDatabase(db.ProviderDatabaseID)
	}
	rec.running = running
	return nil
}

// Delete removes the database. Deleting an unknown database reports the
// provider's "No database found" error.
func (d *DBaaS) Delete(ctx context.Context, db *engine.Database) error {
	if err := d.p.enter(ctx, engine.KindDatabase, "delete", db.Name); err != nil {
		return err
	}
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if _, ok := d.p.databases[db.ProviderDatabaseID]; !ok {
		return noDatabase(db.ProviderDatabaseID)
	}
	delete(d.p.databases, db.ProviderDatabaseID)
	return nil
}

// DatabasePopulated reports whether the population script ran on the database.
func (p *Platform) DatabasePopulated(databaseID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.databases[databaseID]
	return ok && rec.populated
}

func noDatabase(id string) error {
	if id == "" {
		id = "<unset>"
	}
	return fmt.Errorf("No database found with id %s", id)
}
