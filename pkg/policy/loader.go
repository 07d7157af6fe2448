package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// reloadDelay coalesces bursts of file events.
const reloadDelay = 300 * time.Millisecond

// parser turns the contents of one policy file into a Policy.
type parser func(path string, data []byte) (*Policy, error)

var parsers = map[string]parser{
	".rego": parseRego,
	".json": definitionParser(json.Unmarshal),
	".yaml": definitionParser(yaml.Unmarshal),
	".yml":  definitionParser(yaml.Unmarshal),
}

func parserFor(path string) (parser, bool) {
	p, ok := parsers[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Loader reads admission policies from files and directories and keeps the
// parsed result per file until the file changes.
type Loader struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Policy
}

// NewLoader creates a loader logging through logger.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads every path in order. A file named directly must
// parse; unparseable files found while walking a directory are skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		if !info.IsDir() {
			p, err := l.loadFromFile(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
			}
			out = append(out, *p)
			continue
		}
		found, err := l.loadTree(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		out = append(out, found...)
	}

	l.logger.Info().Int("total", len(out)).Int("sources", len(paths)).Msg("Policies loaded from paths")
	return out, nil
}

func (l *Loader) loadTree(ctx context.Context, root string) ([]Policy, error) {
	var out []Policy
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, ok := parserFor(path); d.IsDir() || !ok {
			return nil
		}
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		out = append(out, *p)
		return nil
	})
	return out, err
}

func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	parse, ok := parserFor(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	p, err := parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = p
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded from file")
	return p, nil
}

func (l *Loader) forget(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

// ClearCache drops every parsed policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*Policy)
	l.mu.Unlock()
}

// parseRego names the policy after the file. The leading comment block is
// its description and a "# severity: <level>" line its severity.
func parseRego(path string, data []byte) (*Policy, error) {
	content := string(data)
	now := time.Now()
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Description: extractDescription(content),
		Rego:        content,
		Severity:    extractSeverity(content),
		Enabled:     true,
		Tags:        []string{},
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// definition is the on-disk shape of JSON and YAML policies.
type definition struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Rego        string   `json:"rego" yaml:"rego"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Enabled     *bool    `json:"enabled" yaml:"enabled"`
	Tags        []string `json:"tags" yaml:"tags"`
}

func definitionParser(unmarshal func([]byte, interface{}) error) parser {
	return func(path string, data []byte) (*Policy, error) {
		var def definition
		if err := unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse policy definition: %w", err)
		}
		switch {
		case def.Name == "":
			return nil, fmt.Errorf("policy name is required")
		case def.Rego == "":
			return nil, fmt.Errorf("policy %s has no rego", def.Name)
		}
		if def.Severity == "" {
			def.Severity = SeverityWarning
		}

		now := time.Now()
		return &Policy{
			Name:        def.Name,
			Description: def.Description,
			Rego:        def.Rego,
			Severity:    def.Severity,
			Enabled:     def.Enabled == nil || *def.Enabled,
			Tags:        def.Tags,
			Metadata:    map[string]interface{}{"source": path},
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}
}

// extractDescription joins the first run of comment lines, ignoring the
// package clause and severity markers.
func extractDescription(content string) string {
	var parts []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		switch {
		case isComment:
			comment = strings.TrimSpace(comment)
			if comment != "" && !strings.HasPrefix(comment, "severity:") {
				parts = append(parts, comment)
			}
		case line == "" || strings.HasPrefix(line, "package "):
		case len(parts) > 0:
			return strings.Join(parts, " ")
		}
	}
	return strings.Join(parts, " ")
}

func extractSeverity(content string) Severity {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#"))
		value, ok := strings.CutPrefix(line, "severity:")
		if !ok {
			continue
		}
		switch sev := Severity(strings.TrimSpace(value)); sev {
		case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
			return sev
		}
	}
	return SeverityWarning
}

// Watch reloads paths after policy files change and hands the result to
// apply. It returns once the watches are installed; watching stops with ctx.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, path := range paths {
		if err := addWatches(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.watchLoop(ctx, watcher, paths, apply)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

// addWatches watches path, or every directory below it.
func addWatches(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(p)
	})
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer watcher.Close()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	debounce := time.NewTimer(reloadDelay)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if _, policyFile := parserFor(event.Name); !policyFile || event.Op&relevant == 0 {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			l.forget(event.Name)
			debounce.Reset(reloadDelay)

		case <-debounce.C:
			if err := l.reload(ctx, paths, apply); err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}
