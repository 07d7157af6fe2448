// Package orchestrator drives whole environments through their lifecycle.
//
// An Orchestrator turns a release into a persisted environment and runs the
// environment's technical deployment through activate and firststart, and
// later through start, stop and delete. Every operation is accepted
// synchronously and returns a tracked task; the work continues on a
// background driver that polls the technical deployment until it settles.
//
// Environment creation is serialized per release so that a release never
// has more than one live environment, whatever the number of concurrent
// callers.
package orchestrator
