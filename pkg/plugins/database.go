package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// ignorableDeleteErrors are provider messages meaning the database is already
// gone or going. Matching is case-insensitive.
var ignorableDeleteErrors = []string{
	"no database found",
	"is in incident",
	"database is already deleted",
	"concurrent deletion",
}

// IsIgnorableDeleteError reports whether a DBaaS delete error is benign.
func IsIgnorableDeleteError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range ignorableDeleteErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// DatabaseOptions tunes the DBaaS handler.
type DatabaseOptions struct {
	// ActivateTimeout is advertised on activation statuses.
	ActivateTimeout time.Duration

	// PopulateTimeout is advertised on population script statuses.
	PopulateTimeout time.Duration
}

// DefaultDatabaseOptions returns the DBaaS handler defaults.
func DefaultDatabaseOptions() DatabaseOptions {
	return DatabaseOptions{
		ActivateTimeout: 15 * time.Minute,
		PopulateTimeout: 30 * time.Minute,
	}
}

// DatabaseHandler drives on-demand databases through their lifecycle. The
// activation service is chosen by the database's version tag.
type DatabaseHandler struct {
	base
	services map[string]engine.DatabaseActivationService
	opts     DatabaseOptions
}

var _ engine.LifecycleHandler = (*DatabaseHandler)(nil)

// NewDatabaseHandler creates the DBaaS handler over a version registry.
// An empty registry, an empty version tag or a nil service is a configuration error.
func NewDatabaseHandler(common Common, services map[string]engine.DatabaseActivationService, opts DatabaseOptions) (*DatabaseHandler, error) {
	if len(services) == 0 {
		return nil, engine.NewConfigurationError("database handler requires at least one DBaaS version", nil)
	}
	registry := make(map[string]engine.DatabaseActivationService, len(services))
	for version, svc := range services {
		if version == "" {
			return nil, engine.NewConfigurationError("database handler registered with an empty version", nil)
		}
		if svc == nil {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("database handler registered with a nil service for version %s", version), nil)
		}
		registry[version] = svc
	}

	def := DefaultDatabaseOptions()
	if opts.ActivateTimeout <= 0 {
		opts.ActivateTimeout = def.ActivateTimeout
	}
	if opts.PopulateTimeout <= 0 {
		opts.PopulateTimeout = def.PopulateTimeout
	}

	b, err := newBase(engine.KindDatabase, "dbaas", common)
	if err != nil {
		return nil, err
	}
	return &DatabaseHandler{base: b, services: registry, opts: opts}, nil
}

// Versions returns the registered DBaaS versions in sorted order.
func (h *DatabaseHandler) Versions() []string {
	versions := make([]string, 0, len(h.services))
	for v := range h.services {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Supports reports whether version has a registered activation service.
func (h *DatabaseHandler) Supports(version string) bool {
	_, ok := h.services[version]
	return ok
}

// Activate requests the database. The provider completes asynchronously: the
// returned status is STARTED and tracked until Poll sees the provider finish.
func (h *DatabaseHandler) Activate(ctx context.Context, id string, actx engine.ActivationContext) *engine.TaskStatus {
	status := h.newStatus(engine.StepActivate, id)
	db, svc, ok := h.loadWithService(ctx, status, id)
	if !ok {
		return status
	}

	var correlation string
	if err := h.call(ctx, "activate", func(ctx context.Context) error {
		var callErr error
		correlation, callErr = svc.Activate(ctx, db, actx)
		return callErr
	}); err != nil {
		return h.failAndSave(ctx, status, db, err)
	}

	h.setState(&db.ResourceMeta, engine.ActivationActivating)
	if err := h.save(ctx, db); err != nil {
		return h.fail(ctx, status, err)
	}

	status.Correlation = correlation
	status.Subtitle = "provider request " + correlation
	status.Title = fmt.Sprintf("Database %s is being activated.", nameOrID(&db.ResourceMeta))
	status.SuggestedTimeoutSeconds = int(h.opts.ActivateTimeout.Seconds())
	telemetry.FromContext(ctx).Zerolog().Info().Str("correlation", correlation).Msg("database activation requested")
	return h.Tracker.Register(ctx, status)
}

// Poll refreshes a tracked database status. Activation statuses ask the
// provider; population script statuses are completed by the worker.
func (h *DatabaseHandler) Poll(ctx context.Context, status *engine.TaskStatus) *engine.TaskStatus {
	if status == nil || status.IsTerminal() {
		return status
	}
	if status.Step != engine.StepActivate {
		return h.Tracker.Poll(ctx, status, nil)
	}
	return h.Tracker.Poll(ctx, status, h.refreshActivation)
}

func (h *DatabaseHandler) refreshActivation(ctx context.Context, current *engine.TaskStatus) (*engine.TaskStatus, error) {
	next := current.Clone()
	db, svc, ok := h.loadWithService(ctx, next, current.ResourceID)
	if !ok {
		return next, nil
	}

	var ps *engine.ProviderStatus
	if err := h.call(ctx, "get_status", func(ctx context.Context) error {
		var callErr error
		ps, callErr = svc.GetStatus(ctx, current.Correlation)
		return callErr
	}); err != nil {
		return h.failAndSave(ctx, next, db, err), nil
	}
	if ps == nil {
		return next, nil
	}

	switch ps.State {
	case engine.TaskFinishedOK:
		return h.completeActivation(ctx, next, db, svc, ps), nil
	case engine.TaskFinishedFailed:
		msg := ps.ErrorMessage
		if msg == "" {
			msg = "provider reported failure"
		}
		return h.failAndSave(ctx, next, db, fmt.Errorf("%s", msg)), nil
	default:
		next.SetProgress(ps.PercentComplete)
		return next, nil
	}
}

func (h *DatabaseHandler) completeActivation(
	ctx context.Context,
	status *engine.TaskStatus,
	db *engine.Database,
	svc engine.DatabaseActivationService,
	ps *engine.ProviderStatus,
) *engine.TaskStatus {
	dbID := ps.DatabaseID
	if dbID == "" {
		dbID = firstNonEmpty(db.ProviderDatabaseID, status.Correlation)
	}

	var desc *engine.DatabaseDescription
	if err := h.call(ctx, "fetch_description", func(ctx context.Context) error {
		var callErr error
		desc, callErr = svc.FetchDescription(ctx, dbID)
		return callErr
	}); err != nil {
		return h.failAndSave(ctx, status, db, err)
	}

	db.ProviderDatabaseID = firstNonEmpty(desc.DatabaseID, dbID)
	db.AccessURL = desc.AccessURL
	if desc.Username != "" {
		db.Username = desc.Username
	}
	if desc.Engine != "" {
		db.Engine = desc.Engine
	}
	h.setState(&db.ResourceMeta, engine.ActivationActivated)
	return h.finish(ctx, status, db, h.title(nameOrID(&db.ResourceMeta), engine.StepActivate))
}

// FirstStart launches the population script on the tracker's worker pool.
// A database without a script has nothing to do.
func (h *DatabaseHandler) FirstStart(ctx context.Context, id string) *engine.TaskStatus {
	status := h.newStatus(engine.StepFirstStart, id)
	db, svc, ok := h.loadWithService(ctx, status, id)
	if !ok {
		return status
	}
	name := nameOrID(&db.ResourceMeta)
	if db.PopulationScriptURL == "" {
		return h.nothingToDo(ctx, status, name)
	}

	status.Title = fmt.Sprintf("Database %s is being populated.", name)
	status.Subtitle = db.PopulationScriptURL
	status.SuggestedTimeoutSeconds = int(h.opts.PopulateTimeout.Seconds())

	return h.Tracker.Submit(ctx, status, h.title(name, engine.StepFirstStart), func(ctx context.Context) error {
		return h.call(ctx, "launch_population_script", func(ctx context.Context) error {
			return svc.LaunchPopulationScript(ctx, db)
		})
	})
}

// Start starts the database.
func (h *DatabaseHandler) Start(ctx context.Context, id string) *engine.TaskStatus {
	return h.run(ctx, engine.StepStart, id, engine.ActivationStarted, engine.DatabaseActivationService.Start)
}

// Stop stops the database.
func (h *DatabaseHandler) Stop(ctx context.Context, id string) *engine.TaskStatus {
	return h.run(ctx, engine.StepStop, id, engine.ActivationStopped, engine.DatabaseActivationService.Stop)
}

// Delete always asks the provider. Errors meaning the database is already
// gone count as success; any other error fails with the provider message.
func (h *DatabaseHandler) Delete(ctx context.Context, id string) *engine.TaskStatus {
	status := h.newStatus(engine.StepDelete, id)
	db, svc, ok := h.loadWithService(ctx, status, id)
	if !ok {
		return status
	}
	logger := telemetry.FromContext(ctx).WithProvider(h.service, db.Version)

	err := telemetry.RecordProviderOperation(ctx, h.service, "delete", IsIgnorableDeleteError, func(ctx context.Context) error {
		return svc.Delete(ctx, db)
	})
	if err != nil {
		if !IsIgnorableDeleteError(err) {
			logger.WithTaskID(status.TaskID).WithError(err).Zerolog().Error().
				Str("database", db.Name).
				Str("provider_database_id", db.ProviderDatabaseID).
				Str("activation_state", string(db.ActivationState)).
				Msg("database delete failed")
			status.Fail(err.Error())
			return status
		}
		logger.WithError(err).Zerolog().Warn().
			Str("provider_database_id", db.ProviderDatabaseID).
			Msg("database delete error ignored")
	}

	h.setState(&db.ResourceMeta, engine.ActivationRemoved)
	return h.finish(ctx, status, db, h.title(nameOrID(&db.ResourceMeta), engine.StepDelete))
}

func (h *DatabaseHandler) run(
	ctx context.Context,
	step engine.LifecycleStep,
	id string,
	next engine.ActivationState,
	fn func(engine.DatabaseActivationService, context.Context, *engine.Database) error,
) *engine.TaskStatus {
	status := h.newStatus(step, id)
	db, svc, ok := h.loadWithService(ctx, status, id)
	if !ok {
		return status
	}

	if err := h.call(ctx, string(step), func(ctx context.Context) error {
		return fn(svc, ctx, db)
	}); err != nil {
		return h.fail(ctx, status, err)
	}

	h.setState(&db.ResourceMeta, next)
	return h.finish(ctx, status, db, h.title(nameOrID(&db.ResourceMeta), step))
}

// loadWithService loads the database and selects its version's service.
func (h *DatabaseHandler) loadWithService(ctx context.Context, status *engine.TaskStatus, id string) (*engine.Database, engine.DatabaseActivationService, bool) {
	db, ok := load[*engine.Database](ctx, &h.base, status, id)
	if !ok {
		return nil, nil, false
	}
	svc, ok := h.services[db.Version]
	if !ok {
		h.fail(ctx, status, engine.NewConfigurationError(
			fmt.Sprintf("no DBaaS service registered for version %q", db.Version), nil).
			WithCode(engine.ErrCodeUnknownVersion).
			WithResource(id))
		return nil, nil, false
	}
	return db, svc, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
