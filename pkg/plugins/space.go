package plugins

import (
	"context"

	"github.com/openfroyo/activator/pkg/engine"
)

// SpaceHandler drives spaces through their lifecycle.
type SpaceHandler = ResourceHandler[*engine.Space]

// NewSpaceHandler creates the space handler.
func NewSpaceHandler(common Common, svc engine.SpaceActivationService) (*SpaceHandler, error) {
	if svc == nil {
		return nil, engine.NewConfigurationError("space handler requires an activation service", nil)
	}
	return newResourceHandler(engine.KindSpace, "space", common, resourceOps[*engine.Space]{
		activate: func(ctx context.Context, s *engine.Space, actx engine.ActivationContext) error {
			return svc.Activate(ctx, s, actx)
		},
		delete: svc.Delete,
		attr:   func(s *engine.Space) string { return nameOrID(&s.ResourceMeta) },
	})
}
