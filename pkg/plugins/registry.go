package plugins

import (
	"github.com/openfroyo/activator/pkg/engine"
)

// Services bundles the activation services of every resource kind.
type Services struct {
	Apps                 engine.AppActivationService
	Resolver             engine.ArtifactResolver
	Routes               engine.RouteActivationService
	Spaces               engine.SpaceActivationService
	Organizations        engine.OrganizationActivationService
	ManagedServices      engine.ManagedServiceActivationService
	UserProvidedServices engine.UserProvidedServiceActivationService

	// Databases maps DBaaS version tags to their activation service.
	Databases       map[string]engine.DatabaseActivationService
	DatabaseOptions DatabaseOptions
}

// NewStandardDispatcher builds the handler of every resource kind, including
// the technical deployment aggregate, and checks that every (kind, step) pair
// is served. Any missing service is a configuration error.
func NewStandardDispatcher(common Common, svcs Services) (*Dispatcher, error) {
	app, err := NewAppHandler(common, svcs.Apps, svcs.Resolver)
	if err != nil {
		return nil, err
	}
	route, err := NewRouteHandler(common, svcs.Routes)
	if err != nil {
		return nil, err
	}
	space, err := NewSpaceHandler(common, svcs.Spaces)
	if err != nil {
		return nil, err
	}
	org, err := NewOrganizationHandler(common, svcs.Organizations)
	if err != nil {
		return nil, err
	}
	managed, err := NewManagedServiceHandler(common, svcs.ManagedServices)
	if err != nil {
		return nil, err
	}
	ups, err := NewUserProvidedServiceHandler(common, svcs.UserProvidedServices)
	if err != nil {
		return nil, err
	}
	db, err := NewDatabaseHandler(common, svcs.Databases, svcs.DatabaseOptions)
	if err != nil {
		return nil, err
	}

	var regs []Registration
	for _, h := range []engine.LifecycleHandler{app, route, space, org, managed, ups, db} {
		regs = append(regs, AllSteps(h)...)
	}
	children, err := NewDispatcher(regs...)
	if err != nil {
		return nil, err
	}

	td, err := NewTechnicalDeploymentHandler(common, children)
	if err != nil {
		return nil, err
	}
	full, err := children.With(AllSteps(td)...)
	if err != nil {
		return nil, err
	}
	if err := full.Require(engine.AllKinds...); err != nil {
		return nil, err
	}
	return full, nil
}
