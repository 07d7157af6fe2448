package simulated

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/activator/pkg/engine"
)

type appService struct{ p *Platform }

func (s *appService) Activate(ctx context.Context, app *engine.Application, _ engine.ActivationContext) (string, error) {
	if err := s.p.enter(ctx, engine.KindApp, "activate", app.Name); err != nil {
		return "", err
	}
	if app.BinaryURL == "" {
		return "", fmt.Errorf("app %s has no binary url", app.Name)
	}

	id := "app-" + uuid.New().String()
	s.p.mu.Lock()
	s.p.apps[id] = &appRecord{name: app.Name}
	s.p.mu.Unlock()
	return id, nil
}

func (s *appService) Start(ctx context.Context, app *engine.Application) error {
	return s.setRunning(ctx, app, "start", true)
}

func (s *appService) Stop(ctx context.Context, app *engine.Application) error {
	return s.setRunning(ctx, app, "stop", false)
}

func (s *appService) setRunning(ctx context.Context, app *engine.Application, operation string, running bool) error {
	if err := s.p.enter(ctx, engine.KindApp, operation, app.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	rec, ok := s.p.apps[app.ProviderAppID]
	if !ok {
		return errNotFound("app", app.Name)
	}
	rec.running = running
	return nil
}

// Delete removes the application. Deleting an unknown application succeeds.
func (s *appService) Delete(ctx context.Context, app *engine.Application) error {
	if err := s.p.enter(ctx, engine.KindApp, "delete", app.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	delete(s.p.apps, app.ProviderAppID)
	return nil
}

type routeService struct{ p *Platform }

func (s *routeService) Activate(ctx context.Context, route *engine.Route, _ engine.ActivationContext) error {
	uri := route.URI()
	if err := s.p.enter(ctx, engine.KindRoute, "activate", uri); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if owner, taken := s.p.routes[uri]; taken && owner != route.ID {
		return fmt.Errorf("route %s is already bound", uri)
	}
	s.p.routes[uri] = route.ID
	return nil
}

func (s *routeService) Delete(ctx context.Context, route *engine.Route) error {
	uri := route.URI()
	if err := s.p.enter(ctx, engine.KindRoute, "delete", uri); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.routes[uri] == route.ID {
		delete(s.p.routes, uri)
	}
	return nil
}

type spaceService struct{ p *Platform }

func (s *spaceService) Activate(ctx context.Context, space *engine.Space, _ engine.ActivationContext) error {
	if err := s.p.enter(ctx, engine.KindSpace, "activate", space.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.spaces[space.ID] = space.Name
	return nil
}

func (s *spaceService) Delete(ctx context.Context, space *engine.Space) error {
	if err := s.p.enter(ctx, engine.KindSpace, "delete", space.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	delete(s.p.spaces, space.ID)
	return nil
}

type orgService struct{ p *Platform }

func (s *orgService) Activate(ctx context.Context, org *engine.Organization, _ engine.ActivationContext) error {
	if err := s.p.enter(ctx, engine.KindOrganization, "activate", org.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.orgs[org.ID] = org.Name
	return nil
}

func (s *orgService) Delete(ctx context.Context, org *engine.Organization) error {
	if err := s.p.enter(ctx, engine.KindOrganization, "delete", org.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	delete(s.p.orgs, org.ID)
	return nil
}

type managedService struct{ p *Platform }

func (s *managedService) Activate(ctx context.Context, svc *engine.ManagedService, _ engine.ActivationContext) (string, error) {
	if err := s.p.enter(ctx, engine.KindManagedService, "activate", svc.Name); err != nil {
		return "", err
	}
	if svc.Offering == "" || svc.Plan == "" {
		return "", fmt.Errorf("service %s requires an offering and a plan", svc.Name)
	}
	id := "si-" + uuid.New().String()
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.instances[id] = svc.Offering + "/" + svc.Plan
	return id, nil
}

func (s *managedService) Delete(ctx context.Context, svc *engine.ManagedService) error {
	if err := s.p.enter(ctx, engine.KindManagedService, "delete", svc.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	delete(s.p.instances, svc.ProviderInstanceID)
	return nil
}

type upsService struct{ p *Platform }

func (s *upsService) Activate(ctx context.Context, svc *engine.UserProvidedService, _ engine.ActivationContext) error {
	if err := s.p.enter(ctx, engine.KindUserProvidedService, "activate", svc.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.ups[svc.ID] = svc.Name
	return nil
}

func (s *upsService) Delete(ctx context.Context, svc *engine.UserProvidedService) error {
	if err := s.p.enter(ctx, engine.KindUserProvidedService, "delete", svc.Name); err != nil {
		return err
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	delete(s.p.ups, svc.ID)
	return nil
}
