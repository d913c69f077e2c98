package scrapyd

import (
	"context"
	"net/url"
)

// ListProjects returns the projects deployed on the daemon.
func (c *Client) ListProjects(ctx context.Context) ([]string, error) {
	var resp projectsResponse
	if err := c.get(ctx, "listprojects.json", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// ListVersions returns the versions of a project, oldest first.
func (c *Client) ListVersions(ctx context.Context, project string) ([]string, error) {
	var resp versionsResponse
	params := url.Values{"project": {project}}
	if err := c.get(ctx, "listversions.json", params, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// ListSpiders returns the spiders of a project version. An empty version
// lets the daemon pick its latest.
func (c *Client) ListSpiders(ctx context.Context, project, version string) ([]string, error) {
	var resp spidersResponse
	params := url.Values{"project": {project}}
	if version != "" {
		params.Set("_version", version)
	}
	if err := c.get(ctx, "listspiders.json", params, &resp); err != nil {
		return nil, err
	}
	return resp.Spiders, nil
}

// DaemonStatus reports the job counters of the daemon.
func (c *Client) DaemonStatus(ctx context.Context) (*DaemonStatus, error) {
	var status DaemonStatus
	if err := c.get(ctx, "daemonstatus.json", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
