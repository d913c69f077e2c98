// Package inventory answers what is deployed where: projects on a node,
// versions of a project and spiders of a version.
package inventory

import "context"

// Inventory is the read-only query surface the cascade resolves against.
// Every call is independent and safe to retry.
type Inventory interface {
	// ListProjects returns the projects deployed on the node. A node without
	// projects yields an empty slice, not an error.
	ListProjects(ctx context.Context, nodeID string) ([]Option, error)

	// ListVersions returns the versions of a project, most recent first.
	// A project that was never versioned yields an empty slice.
	ListVersions(ctx context.Context, nodeID, projectID string) ([]Option, error)

	// ListSpiders returns the spiders of a project at the effective version.
	ListSpiders(ctx context.Context, nodeID, projectID, version string) ([]Option, error)
}
