package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// ErrUnknownRelease is returned for release IDs absent from the catalog.
var ErrUnknownRelease = errors.New("unknown release")

var (
	releaseIDPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}$`)
	resourceNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("release_id", func(fl validator.FieldLevel) bool {
		return releaseIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("resource_name", func(fl validator.FieldLevel) bool {
		return resourceNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Loader parses and validates release descriptors.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a new release loader.
func NewLoader() *Loader {
	return &Loader{validate: newValidator()}
}

// LoadFromFile loads a release from a YAML file.
func (l *Loader) LoadFromFile(path string) (*Release, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read release file: %w", err)
	}
	rel, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rel.Path = path
	return rel, nil
}

// LoadFromBytes loads a release from raw YAML.
func (l *Loader) LoadFromBytes(data []byte) (*Release, error) {
	var rel Release
	if err := yaml.Unmarshal(data, &rel); err != nil {
		return nil, fmt.Errorf("failed to parse release YAML: %w", err)
	}
	if err := l.Validate(&rel); err != nil {
		return nil, fmt.Errorf("invalid release: %w", err)
	}
	return &rel, nil
}

// Validate checks field constraints and cross references between resources.
func (l *Loader) Validate(rel *Release) error {
	if err := l.validate.Struct(rel); err != nil {
		return err
	}

	for envType := range rel.Overrides {
		if err := envType.Validate(); err != nil {
			return fmt.Errorf("override: %w", err)
		}
	}

	byName := make(map[string]engine.ResourceKind, len(rel.Resources))
	for _, res := range rel.Resources {
		if _, dup := byName[res.Name]; dup {
			return fmt.Errorf("duplicate resource name: %s", res.Name)
		}
		byName[res.Name] = res.Kind
	}

	expect := func(owner, ref string, kinds ...engine.ResourceKind) error {
		if ref == "" {
			return nil
		}
		kind, ok := byName[ref]
		if !ok {
			return fmt.Errorf("resource %s references unknown resource %s", owner, ref)
		}
		for _, k := range kinds {
			if kind == k {
				return nil
			}
		}
		return fmt.Errorf("resource %s references %s of kind %s", owner, ref, kind)
	}

	for _, res := range rel.Resources {
		for _, dep := range res.DependsOn {
			if err := expect(res.Name, dep, engine.AllKinds...); err != nil {
				return err
			}
			if dep == res.Name {
				return fmt.Errorf("resource %s depends on itself", res.Name)
			}
		}

		var err error
		switch {
		case res.App != nil:
			err = expect(res.Name, res.App.Space, engine.KindSpace)
			for _, bound := range res.App.Bind {
				if err == nil {
					err = expect(res.Name, bound, engine.KindManagedService, engine.KindUserProvidedService, engine.KindDatabase)
				}
			}
		case res.Route != nil:
			err = expect(res.Name, res.Route.App, engine.KindApp)
			if err == nil {
				err = expect(res.Name, res.Route.Space, engine.KindSpace)
			}
		case res.Space != nil:
			err = expect(res.Name, res.Space.Organization, engine.KindOrganization)
		case res.ManagedService != nil:
			err = expect(res.Name, res.ManagedService.Space, engine.KindSpace)
		case res.UserProvidedService != nil:
			err = expect(res.Name, res.UserProvidedService.Space, engine.KindSpace)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Catalog holds the releases known to the activator.
type Catalog struct {
	mu       sync.RWMutex
	releases map[string]*Release
	loader   *Loader
	dir      string
}

// NewCatalog creates an empty catalog reading descriptors from dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{
		releases: make(map[string]*Release),
		loader:   NewLoader(),
		dir:      dir,
	}
}

// Register adds or replaces a release after validating it.
func (c *Catalog) Register(rel *Release) error {
	if err := c.loader.Validate(rel); err != nil {
		return fmt.Errorf("invalid release: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases[rel.ID] = rel
	return nil
}

// Get returns the release with the given ID.
func (c *Catalog) Get(id string) (*Release, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.releases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRelease, id)
	}
	return rel, nil
}

// List returns all releases sorted by ID.
func (c *Catalog) List() []*Release {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Release, 0, len(c.releases))
	for _, rel := range c.releases {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load reads every *.yaml and *.yml descriptor of the catalog directory.
// The catalog content is replaced only when every file loads.
func (c *Catalog) Load(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read release directory: %w", err)
	}

	loaded := make(map[string]*Release)
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptor(entry.Name()) {
			continue
		}
		rel, err := c.loader.LoadFromFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			return err
		}
		if prev, dup := loaded[rel.ID]; dup {
			return fmt.Errorf("release %s defined in both %s and %s", rel.ID, prev.Path, rel.Path)
		}
		loaded[rel.ID] = rel
	}

	c.mu.Lock()
	c.releases = loaded
	c.mu.Unlock()

	telemetry.FromContext(ctx).Zerolog().Info().
		Str("dir", c.dir).
		Int("releases", len(loaded)).
		Msg("release catalog loaded")
	return nil
}

// Watch reloads the catalog whenever a descriptor changes, until ctx is
// cancelled. Reload failures are logged and the previous content is kept.
// Bursts of events are coalesced over the debounce interval.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onReload func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}

	logger := telemetry.FromContext(ctx).NewComponentLogger("release-catalog")
	go func() {
		defer watcher.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isDescriptor(event.Name) || event.Op == fsnotify.Chmod {
					continue
				}
				pending = time.After(debounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("release watcher error")
			case <-pending:
				pending = nil
				err := c.Load(ctx)
				if err != nil {
					logger.WithError(err).Error("release catalog reload failed")
				}
				if onReload != nil {
					onReload(err)
				}
			}
		}
	}()
	return nil
}

func isDescriptor(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
