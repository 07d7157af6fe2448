// Package release loads release descriptors and projects them onto the
// resource set of an environment.
//
// A release descriptor is a YAML document naming the resources a release
// needs (applications, routes, spaces, organizations, services and
// databases) and how they depend on each other. The Catalog loads every
// descriptor of a directory and can watch it for changes. The Projector turns
// one release and an environment type into the resources and the technical
// deployment the orchestrator persists and activates.
package release
