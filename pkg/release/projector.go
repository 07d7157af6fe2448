package release

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/activator/pkg/engine"
)

// Projection is the resource set of one environment.
type Projection struct {
	// TechnicalDeployment lists Resources in activation order.
	TechnicalDeployment *engine.TechnicalDeployment

	// Resources are in activation order and exclude the technical deployment.
	Resources []engine.Resource
}

// All returns the technical deployment followed by every resource.
func (p *Projection) All() []engine.Resource {
	out := make([]engine.Resource, 0, len(p.Resources)+1)
	out = append(out, p.TechnicalDeployment)
	return append(out, p.Resources...)
}

// Projector turns releases into environment resource sets.
type Projector struct {
	catalog *Catalog

	// newID generates resource identifiers.
	newID func() string
}

// NewProjector creates a projector over catalog.
func NewProjector(catalog *Catalog) *Projector {
	return &Projector{
		catalog: catalog,
		newID:   func() string { return uuid.New().String() },
	}
}

// Project builds the resources of a new environment of the given type.
// Implicit dependencies are added: an application after its space and bound
// services, a route after its application, a space after its organization.
func (p *Projector) Project(releaseID string, envType engine.EnvironmentType, environmentID string) (*Projection, error) {
	rel, err := p.catalog.Get(releaseID)
	if err != nil {
		return nil, err
	}
	if err := envType.Validate(); err != nil {
		return nil, engine.NewConfigurationError("cannot project release", err).WithCode(engine.ErrCodeValidation)
	}

	ids := make(map[string]string, len(rel.Resources))
	for _, spec := range rel.Resources {
		ids[spec.Name] = p.newID()
	}
	byID, nodes := p.assemble(rel, envType, environmentID, ids)

	order, err := engine.ActivationOrder(nodes)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", rel.ID, err)
	}

	td := &engine.TechnicalDeployment{
		ResourceMeta: engine.ResourceMeta{
			ID:              p.newID(),
			Kind:            engine.KindTechnicalDeployment,
			Name:            rel.Name + "-" + rel.Version,
			EnvironmentID:   environmentID,
			ActivationState: engine.ActivationNotActivated,
		},
		Resources: order,
	}
	resources := make([]engine.Resource, 0, len(order))
	for _, ref := range order {
		resources = append(resources, byID[ref.ID])
	}
	return &Projection{TechnicalDeployment: td, Resources: resources}, nil
}

// assemble builds the resources of rel keyed by ids together with their
// dependency nodes.
func (p *Projector) assemble(
	rel *Release,
	envType engine.EnvironmentType,
	environmentID string,
	ids map[string]string,
) (map[string]engine.Resource, []engine.DependencyNode) {
	defaultSpace := firstOfKind(rel, engine.KindSpace)
	spaceOf := func(explicit string) string {
		if explicit == "" {
			explicit = defaultSpace
		}
		return ids[explicit]
	}

	byID := make(map[string]engine.Resource, len(rel.Resources))
	nodes := make([]engine.DependencyNode, 0, len(rel.Resources))
	for _, spec := range rel.Resources {
		res, deps := p.build(rel, spec, envType, ids, spaceOf)
		meta := res.Meta()
		meta.ID = ids[spec.Name]
		meta.Kind = spec.Kind
		meta.Name = spec.Name
		meta.EnvironmentID = environmentID
		meta.ActivationState = engine.ActivationNotActivated
		byID[meta.ID] = res

		for _, dep := range spec.DependsOn {
			deps = append(deps, ids[dep])
		}
		nodes = append(nodes, engine.DependencyNode{
			Ref:       engine.ResourceRef{Kind: spec.Kind, ID: meta.ID},
			DependsOn: dedupe(deps, meta.ID),
		})
	}
	return byID, nodes
}

// Graph renders the activation graph of a release in DOT format. Nodes are
// named after the release resources.
func (p *Projector) Graph(releaseID string, envType engine.EnvironmentType) (string, error) {
	rel, err := p.catalog.Get(releaseID)
	if err != nil {
		return "", err
	}
	ids := make(map[string]string, len(rel.Resources))
	for _, spec := range rel.Resources {
		ids[spec.Name] = spec.Name
	}
	_, nodes := p.assemble(rel, envType, "", ids)

	dag := engine.NewDAGBuilder()
	if _, err := dag.Build(nodes); err != nil {
		return "", fmt.Errorf("release %s: %w", rel.ID, err)
	}
	return dag.ToDOT(), nil
}

func (p *Projector) build(
	rel *Release,
	spec ResourceSpec,
	envType engine.EnvironmentType,
	ids map[string]string,
	spaceOf func(string) string,
) (engine.Resource, []string) {
	var deps []string
	dependOn := func(id string) {
		if id != "" {
			deps = append(deps, id)
		}
	}

	switch spec.Kind {
	case engine.KindApp:
		app := &engine.Application{}
		if s := spec.App; s != nil {
			sizing := s.Sizing
			if o, ok := rel.Overrides[envType]; ok {
				if o.Instances > 0 {
					sizing.Instances = o.Instances
				}
				if o.MemoryMB > 0 {
					sizing.MemoryMB = o.MemoryMB
				}
			}
			app.Artifact = s.Artifact
			app.SpaceID = spaceOf(s.Space)
			app.Instances = max(sizing.Instances, 1)
			app.MemoryMB = sizing.MemoryMB
			app.Env = s.Env
			for _, bound := range s.Bind {
				app.BoundServices = append(app.BoundServices, ids[bound])
				dependOn(ids[bound])
			}
		}
		dependOn(app.SpaceID)
		return app, deps

	case engine.KindRoute:
		route := &engine.Route{}
		if s := spec.Route; s != nil {
			route.Host = s.Host
			route.Domain = s.Domain
			route.ContextPath = s.ContextPath
			route.AppID = ids[s.App]
			route.SpaceID = spaceOf(s.Space)
		}
		dependOn(route.AppID)
		dependOn(route.SpaceID)
		return route, deps

	case engine.KindSpace:
		space := &engine.Space{}
		org := firstOfKind(rel, engine.KindOrganization)
		if spec.Space != nil && spec.Space.Organization != "" {
			org = spec.Space.Organization
		}
		space.OrganizationID = ids[org]
		dependOn(space.OrganizationID)
		return space, deps

	case engine.KindOrganization:
		return &engine.Organization{}, deps

	case engine.KindManagedService:
		svc := &engine.ManagedService{}
		if s := spec.ManagedService; s != nil {
			svc.Offering = s.Offering
			svc.Plan = s.Plan
			svc.SpaceID = spaceOf(s.Space)
		} else {
			svc.SpaceID = spaceOf("")
		}
		dependOn(svc.SpaceID)
		return svc, deps

	case engine.KindUserProvidedService:
		svc := &engine.UserProvidedService{}
		if s := spec.UserProvidedService; s != nil {
			svc.Credentials = s.Credentials
			svc.SyslogDrainURL = s.SyslogDrainURL
			svc.SpaceID = spaceOf(s.Space)
		} else {
			svc.SpaceID = spaceOf("")
		}
		dependOn(svc.SpaceID)
		return svc, deps

	default:
		db := &engine.Database{}
		if s := spec.Database; s != nil {
			db.Version = s.Version
			db.Engine = s.Engine
			db.SizeMB = s.SizeMB
			db.PopulationScriptURL = s.PopulationScriptURL
		}
		return db, deps
	}
}

func firstOfKind(rel *Release, kind engine.ResourceKind) string {
	for _, spec := range rel.Resources {
		if spec.Kind == kind {
			return spec.Name
		}
	}
	return ""
}

func dedupe(ids []string, self string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || id == self || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
