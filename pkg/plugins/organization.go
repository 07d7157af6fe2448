package plugins

import (
	"context"

	"github.com/openfroyo/activator/pkg/engine"
)

// OrganizationHandler drives organizations through their lifecycle. Unlike
// the other resource kinds, its delete always reaches the provider.
type OrganizationHandler = ResourceHandler[*engine.Organization]

// NewOrganizationHandler creates the organization handler.
func NewOrganizationHandler(common Common, svc engine.OrganizationActivationService) (*OrganizationHandler, error) {
	if svc == nil {
		return nil, engine.NewConfigurationError("organization handler requires an activation service", nil)
	}
	return newResourceHandler(engine.KindOrganization, "organization", common, resourceOps[*engine.Organization]{
		activate: func(ctx context.Context, o *engine.Organization, actx engine.ActivationContext) error {
			return svc.Activate(ctx, o, actx)
		},
		delete:       svc.Delete,
		attr:         func(o *engine.Organization) string { return nameOrID(&o.ResourceMeta) },
		deleteAlways: true,
	})
}
