package policy

import (
	"time"
)

// Severity ranks a violation. Error and critical violations deny the
// request; the others are reported as warnings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the request.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Operation is the environment operation being admitted.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationStart  Operation = "start"
	OperationStop   Operation = "stop"
	OperationDelete Operation = "delete"
)

// Policy is one admission rule. Its Rego package must define a deny set of
// messages; each message becomes a violation of the policy's severity.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`

	// Builtin marks policies shipped with the activator.
	Builtin  bool                   `json:"builtin,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny message raised by a policy.
type Violation struct {
	Policy      string   `json:"policy"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Remediation string   `json:"remediation,omitempty"`
}

// Result is the outcome of an admission evaluation. The request is allowed
// only when there are no blocking violations and no evaluation errors.
type Result struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`

	// Errors names policies that failed to evaluate.
	Errors            []string `json:"errors,omitempty"`
	EvaluatedPolicies []string `json:"evaluated_policies"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Reasons returns the messages of blocking violations and evaluation errors.
func (r *Result) Reasons() []string {
	reasons := make([]string, 0, len(r.Violations)+len(r.Errors))
	for _, v := range r.Violations {
		reasons = append(reasons, v.Message)
	}
	return append(reasons, r.Errors...)
}

// EnvironmentInput is the environment as seen by policies.
type EnvironmentInput struct {
	ID        string `json:"id,omitempty"`
	ReleaseID string `json:"release_id"`
	Type      string `json:"type"`
	OwnerID   string `json:"owner_id"`
	Label     string `json:"label"`
	State     string `json:"state,omitempty"`
}

// Request is the input document of an admission evaluation. For creation
// Environment carries the requested attributes.
type Request struct {
	Operation   Operation        `json:"operation"`
	Environment EnvironmentInput `json:"environment"`
	Actor       string           `json:"actor,omitempty"`

	// Force acknowledges protections such as production delete protection.
	Force     bool                   `json:"force"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
