package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flo-mic/spidergroup/internal/config"
	"github.com/flo-mic/spidergroup/internal/scrapyd"
)

// LatestVersion is the reserved version id meaning "whatever the daemon
// considers latest when the job is dispatched".
const LatestVersion = "0"

// statusConcurrency bounds the daemonstatus fan-out.
const statusConcurrency = 8

// daemon is the subset of the scrapyd client the registry needs.
type daemon interface {
	ListProjects(ctx context.Context) ([]string, error)
	ListVersions(ctx context.Context, project string) ([]string, error)
	ListSpiders(ctx context.Context, project, version string) ([]string, error)
	DaemonStatus(ctx context.Context) (*scrapyd.DaemonStatus, error)
}

type registryNode struct {
	cfg    config.NodeConfig
	client daemon
}

// Registry is the Inventory backed by the configured scrapyd nodes.
type Registry struct {
	order []string
	nodes map[string]registryNode
}

// NewRegistry creates one scrapyd client per node.
func NewRegistry(nodes []config.NodeConfig, timeout time.Duration) *Registry {
	r := &Registry{nodes: make(map[string]registryNode, len(nodes))}
	for _, n := range nodes {
		user, pass := n.Credentials()
		r.add(n, scrapyd.NewClient(n.URL(), user, pass, timeout))
	}
	return r
}

func (r *Registry) add(n config.NodeConfig, d daemon) {
	if _, ok := r.nodes[n.ID]; !ok {
		r.order = append(r.order, n.ID)
	}
	r.nodes[n.ID] = registryNode{cfg: n, client: d}
}

// Nodes returns the node field's options in configuration order.
func (r *Registry) Nodes() []Option {
	opts := make([]Option, 0, len(r.order))
	for _, id := range r.order {
		opts = append(opts, Option{ID: id, Label: r.nodes[id].cfg.Label()})
	}
	return opts
}

func (r *Registry) node(id string) (registryNode, error) {
	n, ok := r.nodes[id]
	if !ok {
		return registryNode{}, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return n, nil
}

// ListProjects implements Inventory.
func (r *Registry) ListProjects(ctx context.Context, nodeID string) ([]Option, error) {
	n, err := r.node(nodeID)
	if err != nil {
		return nil, err
	}
	names, err := n.client.ListProjects(ctx)
	if err != nil {
		return nil, translate(nodeID, err, ErrUnavailableNode)
	}
	return optionsFromNames(names), nil
}

// ListVersions implements Inventory. scrapyd lists versions oldest first,
// so the order is reversed.
func (r *Registry) ListVersions(ctx context.Context, nodeID, projectID string) ([]Option, error) {
	n, err := r.node(nodeID)
	if err != nil {
		return nil, err
	}
	names, err := n.client.ListVersions(ctx, projectID)
	if err != nil {
		return nil, translate(nodeID, err, ErrUnknownProject)
	}
	opts := make([]Option, 0, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		opts = append(opts, Option{ID: names[i], Label: names[i]})
	}
	return opts, nil
}

// ListSpiders implements Inventory. The LatestVersion sentinel is not sent
// to the daemon, which then resolves its own latest version.
func (r *Registry) ListSpiders(ctx context.Context, nodeID, projectID, version string) ([]Option, error) {
	n, err := r.node(nodeID)
	if err != nil {
		return nil, err
	}
	daemonVersion := version
	onAPIError := ErrUnknownVersion
	if version == LatestVersion {
		daemonVersion = ""
		onAPIError = ErrUnknownProject
	}
	names, err := n.client.ListSpiders(ctx, projectID, daemonVersion)
	if err != nil {
		return nil, translate(nodeID, err, onAPIError)
	}
	return optionsFromNames(names), nil
}

// Status queries every node's daemon concurrently. Per-node failures are
// recorded in the result rather than returned.
func (r *Registry) Status(ctx context.Context) []NodeStatus {
	out := make([]NodeStatus, len(r.order))
	var g errgroup.Group
	g.SetLimit(statusConcurrency)
	for i, id := range r.order {
		n := r.nodes[id]
		out[i] = NodeStatus{
			Node: Option{ID: id, Label: n.cfg.Label()},
			URL:  n.cfg.URL(),
		}
		g.Go(func() error {
			st, err := n.client.DaemonStatus(ctx)
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Online = true
			out[i].Pending = st.Pending
			out[i].Running = st.Running
			out[i].Finished = st.Finished
			return nil
		})
	}
	// Every goroutine returns nil; failures are kept in out.
	_ = g.Wait()
	return out
}

// translate maps scrapyd transport errors onto the inventory taxonomy.
// A well-formed scrapyd error response becomes onAPIError.
func translate(nodeID string, err error, onAPIError error) error {
	var apiErr *scrapyd.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("node %s: %w: %s", nodeID, onAPIError, apiErr.Message)
	}
	return fmt.Errorf("node %s: %w: %v", nodeID, ErrUnavailableNode, err)
}
