package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// AppHandler drives applications through their lifecycle.
type AppHandler struct {
	base
	svc      engine.AppActivationService
	resolver engine.ArtifactResolver
}

var _ engine.LifecycleHandler = (*AppHandler)(nil)

// NewAppHandler creates the application handler.
func NewAppHandler(common Common, svc engine.AppActivationService, resolver engine.ArtifactResolver) (*AppHandler, error) {
	if svc == nil {
		return nil, engine.NewConfigurationError("app handler requires an activation service", nil)
	}
	if resolver == nil {
		return nil, engine.NewConfigurationError("app handler requires an artifact resolver", nil)
	}
	b, err := newBase(engine.KindApp, "app", common)
	if err != nil {
		return nil, err
	}
	return &AppHandler{base: b, svc: svc, resolver: resolver}, nil
}

// Activate resolves the application binary, stores the URL on the
// application, then pushes it to the provider.
func (h *AppHandler) Activate(ctx context.Context, id string, actx engine.ActivationContext) *engine.TaskStatus {
	status := h.newStatus(engine.StepActivate, id)
	app, ok := load[*engine.Application](ctx, &h.base, status, id)
	if !ok {
		return status
	}

	url, err := h.resolver.Resolve(ctx, app.Artifact)
	if err != nil {
		if errors.Is(err, engine.ErrArtifactNotFound) {
			err = fmt.Errorf("cannot resolve artifact %s: %w", app.Artifact, err)
		}
		return h.failAndSave(ctx, status, app, err)
	}
	app.BinaryURL = url
	telemetry.FromContext(ctx).Zerolog().Debug().Str("binary_url", url).Msg("artifact resolved")

	var providerID string
	if err := h.call(ctx, "activate", func(ctx context.Context) error {
		var callErr error
		providerID, callErr = h.svc.Activate(ctx, app, actx)
		return callErr
	}); err != nil {
		return h.failAndSave(ctx, status, app, err)
	}

	app.ProviderAppID = providerID
	h.setState(&app.ResourceMeta, engine.ActivationActivated)
	return h.finish(ctx, status, app, h.title(nameOrID(&app.ResourceMeta), engine.StepActivate))
}

// FirstStart starts the application for the first time.
func (h *AppHandler) FirstStart(ctx context.Context, id string) *engine.TaskStatus {
	return h.run(ctx, engine.StepFirstStart, id, "start", h.svc.Start, engine.ActivationStarted, engine.StepStart)
}

// Start starts the application.
func (h *AppHandler) Start(ctx context.Context, id string) *engine.TaskStatus {
	return h.run(ctx, engine.StepStart, id, "start", h.svc.Start, engine.ActivationStarted, engine.StepStart)
}

// Stop stops the application.
func (h *AppHandler) Stop(ctx context.Context, id string) *engine.TaskStatus {
	return h.run(ctx, engine.StepStop, id, "stop", h.svc.Stop, engine.ActivationStopped, engine.StepStop)
}

// Delete deletes the application at the provider.
func (h *AppHandler) Delete(ctx context.Context, id string) *engine.TaskStatus {
	return h.run(ctx, engine.StepDelete, id, "delete", h.svc.Delete, engine.ActivationRemoved, engine.StepDelete)
}

func (h *AppHandler) run(
	ctx context.Context,
	step engine.LifecycleStep,
	id, operation string,
	fn func(context.Context, *engine.Application) error,
	next engine.ActivationState,
	verb engine.LifecycleStep,
) *engine.TaskStatus {
	status := h.newStatus(step, id)
	app, ok := load[*engine.Application](ctx, &h.base, status, id)
	if !ok {
		return status
	}

	if err := h.call(ctx, operation, func(ctx context.Context) error {
		return fn(ctx, app)
	}); err != nil {
		return h.fail(ctx, status, err)
	}

	h.setState(&app.ResourceMeta, next)
	return h.finish(ctx, status, app, h.title(nameOrID(&app.ResourceMeta), verb))
}
