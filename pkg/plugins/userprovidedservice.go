package plugins

import (
	"context"

	"github.com/openfroyo/activator/pkg/engine"
)

// UserProvidedServiceHandler drives user-provided services through their lifecycle.
type UserProvidedServiceHandler = ResourceHandler[*engine.UserProvidedService]

// NewUserProvidedServiceHandler creates the user-provided service handler.
func NewUserProvidedServiceHandler(common Common, svc engine.UserProvidedServiceActivationService) (*UserProvidedServiceHandler, error) {
	if svc == nil {
		return nil, engine.NewConfigurationError("user provided service handler requires an activation service", nil)
	}
	return newResourceHandler(engine.KindUserProvidedService, "user-provided-service", common, resourceOps[*engine.UserProvidedService]{
		activate: func(ctx context.Context, ups *engine.UserProvidedService, actx engine.ActivationContext) error {
			return svc.Activate(ctx, ups, actx)
		},
		delete: svc.Delete,
		attr:   func(ups *engine.UserProvidedService) string { return nameOrID(&ups.ResourceMeta) },
	})
}
