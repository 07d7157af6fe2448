package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		environmentLabelPolicy(),
		ownerRequiredPolicy(),
		productionDeletePolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, rego string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        rego,
	}
}

// environmentLabelPolicy enforces environment label conventions.
func environmentLabelPolicy() Policy {
	return builtin(
		"environment-label",
		"Enforces environment label conventions (lowercase, alphanumeric, hyphens only)",
		SeverityError,
		[]string{"naming", "conventions"},
		`package activator.policies.label

import rego.v1

deny contains violation if {
	input.operation == "create"
	label := input.environment.label

	# Label must match pattern: alphanumeric and hyphens only
	not regex.match("^[a-z0-9-]*$", label)
	violation := {
		"message": sprintf("Environment label '%s' must contain only lowercase letters, numbers, and hyphens", [label]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "create"
	label := input.environment.label
	count(label) > 0

	# Label must not start or end with hyphen
	regex.match("^-|-$", label)
	violation := {
		"message": sprintf("Environment label '%s' must not start or end with a hyphen", [label]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "create"
	label := input.environment.label

	# Label must be between 3 and 63 characters
	count(label) < 3
	violation := {
		"message": sprintf("Environment label '%s' must be at least 3 characters long", [label]),
		"severity": "error",
	}
}

deny contains violation if {
	input.operation == "create"
	label := input.environment.label

	count(label) > 63
	violation := {
		"message": sprintf("Environment label '%s' must be at most 63 characters long", [label]),
		"severity": "error",
	}
}`,
	)
}

// ownerRequiredPolicy requires every environment to have an owner.
func ownerRequiredPolicy() Policy {
	return builtin(
		"owner-required",
		"Requires an owner on every new environment",
		SeverityError,
		[]string{"ownership", "governance"},
		`package activator.policies.owner

import rego.v1

deny contains violation if {
	input.operation == "create"
	trim_space(object.get(input.environment, "owner_id", "")) == ""
	violation := {
		"message": "Environment must have an owner",
		"severity": "error",
	}
}`,
	)
}

// productionDeletePolicy protects production environments from deletion.
func productionDeletePolicy() Policy {
	return builtin(
		"production-delete-protection",
		"Prevents deletion of production environments unless forced",
		SeverityCritical,
		[]string{"protection", "production"},
		`package activator.policies.production

import rego.v1

deny contains violation if {
	input.operation == "delete"
	input.environment.type == "PRODUCTION"
	not input.force
	violation := {
		"message": sprintf("Production environment %s is protected; deletion must be forced", [input.environment.label]),
		"severity": "critical",
	}
}

# Stopping production is allowed but worth a review
deny contains violation if {
	input.operation == "stop"
	input.environment.type == "PRODUCTION"
	violation := {
		"message": sprintf("Stopping production environment %s", [input.environment.label]),
		"severity": "warning",
	}
}`,
	)
}
