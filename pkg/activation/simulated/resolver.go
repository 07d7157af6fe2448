package simulated

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/activator/pkg/engine"
)

// Resolver maps artifact coordinates to URLs in a Maven-style repository layout.
type Resolver struct {
	baseURL string

	mu    sync.RWMutex
	known map[string]bool
}

var _ engine.ArtifactResolver = (*Resolver)(nil)

// NewResolver creates a resolver rooted at baseURL. When known artifacts are
// given, only those resolve; otherwise every complete coordinate resolves.
func NewResolver(baseURL string, known ...engine.ArtifactRef) *Resolver {
	r := &Resolver{baseURL: strings.TrimSuffix(baseURL, "/")}
	if len(known) > 0 {
		r.known = make(map[string]bool, len(known))
		for _, ref := range known {
			r.known[ref.String()] = true
		}
	}
	return r
}

// Publish makes ref resolvable.
func (r *Resolver) Publish(ref engine.ArtifactRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known == nil {
		r.known = make(map[string]bool)
	}
	r.known[ref.String()] = true
}

// Resolve implements engine.ArtifactResolver.
func (r *Resolver) Resolve(_ context.Context, ref engine.ArtifactRef) (string, error) {
	if ref.GroupID == "" || ref.ArtifactID == "" || ref.Version == "" {
		return "", fmt.Errorf("incomplete coordinate %s: %w", ref, engine.ErrArtifactNotFound)
	}

	r.mu.RLock()
	known := r.known
	found := known == nil || known[ref.String()]
	r.mu.RUnlock()
	if !found {
		return "", engine.ErrArtifactNotFound
	}

	ext := ref.Extension
	if ext == "" {
		ext = "jar"
	}
	file := ref.ArtifactID + "-" + ref.Version
	if ref.Classifier != "" {
		file += "-" + ref.Classifier
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		r.baseURL, strings.ReplaceAll(ref.GroupID, ".", "/"), ref.ArtifactID, ref.Version, file, ext), nil
}
