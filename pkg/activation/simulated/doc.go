// Package simulated provides in-process implementations of every activation
// service contract and of the artifact resolver.
//
// A Platform keeps the provider-side view of applications, routes, spaces,
// organizations, service instances and databases in memory. Latency and
// failures can be injected per operation, which makes it suitable for the
// CLI and for end-to-end tests of the orchestrator.
//
// Two DBaaS versions are offered: v1 completes activations on the first
// status poll, v2 only after a configurable number of polls.
package simulated
