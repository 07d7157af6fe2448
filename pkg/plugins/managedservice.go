package plugins

import (
	"context"

	"github.com/openfroyo/activator/pkg/engine"
)

// ManagedServiceHandler drives marketplace service instances through their lifecycle.
type ManagedServiceHandler = ResourceHandler[*engine.ManagedService]

// NewManagedServiceHandler creates the managed service handler.
// Activation stores the provider instance id on the resource.
func NewManagedServiceHandler(common Common, svc engine.ManagedServiceActivationService) (*ManagedServiceHandler, error) {
	if svc == nil {
		return nil, engine.NewConfigurationError("managed service handler requires an activation service", nil)
	}
	return newResourceHandler(engine.KindManagedService, "managed-service", common, resourceOps[*engine.ManagedService]{
		activate: func(ctx context.Context, ms *engine.ManagedService, actx engine.ActivationContext) error {
			instanceID, err := svc.Activate(ctx, ms, actx)
			if err != nil {
				return err
			}
			ms.ProviderInstanceID = instanceID
			return nil
		},
		delete: svc.Delete,
		attr:   func(ms *engine.ManagedService) string { return nameOrID(&ms.ResourceMeta) },
	})
}
