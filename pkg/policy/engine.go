package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// ErrPolicyNotFound is returned for lookups of unknown policy names.
var ErrPolicyNotFound = errors.New("policy not found")

// Engine evaluates Rego deny rules against environment requests.
type Engine struct {
	logger zerolog.Logger
	loader *Loader

	mu       sync.RWMutex
	policies map[string]*compiledPolicy

	// overrides holds EnablePolicy and DisablePolicy decisions by name.
	// They outlive reloads.
	overrides map[string]bool
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger:    logger.With().Str("component", "policy-engine").Logger(),
		loader:    NewLoader(logger),
		policies:  make(map[string]*compiledPolicy),
		overrides: make(map[string]bool),
	}
	if err := e.installBuiltins(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: policy, query: query}, nil
}

// compileAll compiles every policy or none.
func compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	out := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		out[policies[i].Name] = cp
	}
	return out, nil
}

// installBuiltins resets the engine to the built-in policies. Callers other
// than NewEngine hold the write lock.
func (e *Engine) installBuiltins(ctx context.Context) error {
	builtins, err := compileAll(ctx, GetBuiltinPolicies())
	if err != nil {
		return err
	}
	e.policies = make(map[string]*compiledPolicy, len(builtins))
	for name, cp := range builtins {
		e.installLocked(name, cp)
	}
	e.logger.Info().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return nil
}

// Evaluate runs every enabled policy against the request. Violations of
// error or critical severity deny it, as does any policy failing to evaluate.
func (e *Engine) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("policy request is nil")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	start := time.Now()
	result := &Result{Allowed: true}
	for _, cp := range e.enabled() {
		name := cp.policy.Name
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := cp.evaluate(ctx, req)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Str("operation", string(req.Operation)).Msg("Policy evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			result.Allowed = false
			continue
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Violations = append(result.Violations, v)
				result.Allowed = false
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.EvaluatedAt = time.Now()
	result.Duration = result.EvaluatedAt.Sub(start)

	e.logger.Debug().
		Str("operation", string(req.Operation)).
		Str("release_id", req.Environment.ReleaseID).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Admission evaluation completed")

	return result, nil
}

// enabled returns the enabled policies in name order.
func (e *Engine) enabled() []*compiledPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		if cp := e.policies[name]; cp.policy.Enabled {
			out = append(out, cp)
		}
	}
	return out
}

func (cp *compiledPolicy) evaluate(ctx context.Context, req *Request) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(req))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, r := range results {
		if len(r.Expressions) == 0 {
			continue
		}
		// deny is a set, decoded as a slice
		entries, _ := r.Expressions[0].Value.([]interface{})
		for _, entry := range entries {
			violations = append(violations, cp.violation(entry))
		}
	}
	return violations, nil
}

// violation converts one deny entry. Entries are either a message or an
// object with message, severity and remediation keys.
func (cp *compiledPolicy) violation(entry interface{}) Violation {
	v := Violation{Policy: cp.policy.Name, Severity: cp.policy.Severity}
	switch e := entry.(type) {
	case string:
		v.Message = e
	case map[string]interface{}:
		v.Message, _ = e["message"].(string)
		if sev, ok := e["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		v.Remediation, _ = e["remediation"].(string)
	default:
		v.Message = fmt.Sprint(entry)
	}
	return v
}

// LoadPolicies loads policy files and directories next to the built-ins.
// A loaded policy replaces any policy of the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	compiled, err := compileAll(ctx, policies)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to compile policy")
		return err
	}

	e.mu.Lock()
	for name, cp := range compiled {
		e.installLocked(name, cp)
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// AddPolicy compiles and registers one policy.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	cp, err := compile(ctx, &policy)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.installLocked(policy.Name, cp)
	e.mu.Unlock()
	return nil
}

// installLocked registers cp under name, honouring any override.
func (e *Engine) installLocked(name string, cp *compiledPolicy) {
	if enabled, ok := e.overrides[name]; ok {
		cp.policy.Enabled = enabled
	}
	e.policies[name] = cp
}

// Watch reloads the policies of paths whenever one of their files changes.
// Each reload replaces every non-built-in policy.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		compiled, err := compileAll(ctx, policies)
		if err != nil {
			return err
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		for name, cp := range e.policies {
			if !cp.policy.Builtin {
				delete(e.policies, name)
			}
		}
		for name, cp := range compiled {
			e.installLocked(name, cp)
		}
		return nil
	})
}

// ReloadPolicies drops loaded policies and restores the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loader.ClearCache()
	return e.installBuiltins(ctx)
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns the named policy.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return cp.policy, nil
}

// ListPolicies returns every policy sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

// EnablePolicy turns the named policy on, including across reloads.
func (e *Engine) EnablePolicy(name string) error { return e.setEnabled(name, true) }

// DisablePolicy turns the named policy off, including across reloads.
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	cp.policy.Enabled = enabled
	e.overrides[name] = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}
