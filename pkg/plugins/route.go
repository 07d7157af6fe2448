package plugins

import (
	"context"

	"github.com/openfroyo/activator/pkg/engine"
)

// RouteHandler drives routes through their lifecycle.
type RouteHandler = ResourceHandler[*engine.Route]

// NewRouteHandler creates the route handler. Titles use the route URI.
func NewRouteHandler(common Common, svc engine.RouteActivationService) (*RouteHandler, error) {
	if svc == nil {
		return nil, engine.NewConfigurationError("route handler requires an activation service", nil)
	}
	return newResourceHandler(engine.KindRoute, "route", common, resourceOps[*engine.Route]{
		activate: func(ctx context.Context, r *engine.Route, actx engine.ActivationContext) error {
			return svc.Activate(ctx, r, actx)
		},
		delete: svc.Delete,
		attr:   (*engine.Route).URI,
	})
}
