// Package policy provides Open Policy Agent (OPA) admission control for the activator.
//
// Every environment operation is described by a Request (operation, target
// environment, actor) and evaluated against Rego policies. Each policy
// package defines a deny set; entries are either strings or objects with
// message, severity and remediation fields. Violations of error or critical
// severity deny the request, as does a policy failing to evaluate.
//
// # Built-in Policies
//
//  1. environment-label - labels are lowercase, alphanumeric or hyphens, 3 to 63 characters
//  2. owner-required - new environments need an owner
//  3. production-delete-protection - production deletion must be forced
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/activator/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.Evaluate(ctx, &policy.Request{
//	    Operation:   policy.OperationCreate,
//	    Environment: policy.EnvironmentInput{ReleaseID: "shop-1.0", OwnerID: "alice", Label: "shop-dev"},
//	})
//	if !result.Allowed {
//	    fmt.Println(result.Reasons())
//	}
//
// Policy files are .rego (named after the file, severity from a
// "# severity: <level>" comment), or .json and .yaml definitions with name,
// description, severity, enabled and rego fields. Engine.Watch reloads them
// when they change.
package policy
