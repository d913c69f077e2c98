package inventory

// Option is one selectable entry of a cascade field: a node, a project,
// a version or a spider.
type Option struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// NodeStatus is the outcome of a daemonstatus.json query against one node.
type NodeStatus struct {
	Node     Option `json:"node"`
	URL      string `json:"url"`
	Online   bool   `json:"online"`
	Pending  int    `json:"pending"`
	Running  int    `json:"running"`
	Finished int    `json:"finished"`
	Error    string `json:"error,omitempty"`
}

// optionsFromNames turns plain scrapyd names into options labelled by name.
func optionsFromNames(names []string) []Option {
	opts := make([]Option, 0, len(names))
	for _, n := range names {
		opts = append(opts, Option{ID: n, Label: n})
	}
	return opts
}
