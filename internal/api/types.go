package api

import (
	"time"

	"github.com/flo-mic/spidergroup/internal/cascade"
	"github.com/flo-mic/spidergroup/internal/groups"
	"github.com/flo-mic/spidergroup/internal/inventory"
)

// Selection is the JSON form of a session's cascade snapshot.
type Selection struct {
	Session          string                        `json:"session,omitempty"`
	State            string                        `json:"state"`
	Node             string                        `json:"node"`
	Project          string                        `json:"project"`
	Version          string                        `json:"version"`
	EffectiveVersion string                        `json:"effective_version"`
	Spiders          []string                      `json:"spiders"`
	Options          map[string][]inventory.Option `json:"options"`
	Loading          []string                      `json:"loading,omitempty"`
	Notices          []cascade.Notice              `json:"notices,omitempty"`
	Error            *FieldError                   `json:"error,omitempty"`
}

// FieldError is a hard error that aborted the resolution of one field.
type FieldError struct {
	Field   string `json:"field"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewSelection converts a cascade snapshot into its wire form.
func NewSelection(session string, sel cascade.Selection) Selection {
	out := Selection{
		Session:          session,
		State:            sel.State.String(),
		Node:             sel.Node,
		Project:          sel.Project,
		Version:          sel.Version,
		EffectiveVersion: sel.EffectiveVersion,
		Spiders:          sel.Spiders,
		Options:          make(map[string][]inventory.Option, len(sel.Options)),
		Notices:          sel.Notices,
	}
	for f, opts := range sel.Options {
		out.Options[f.String()] = opts
	}
	for _, f := range sel.Loading {
		out.Loading = append(out.Loading, f.String())
	}
	if sel.Err != nil {
		out.Error = &FieldError{
			Field:   sel.ErrField.String(),
			Kind:    inventory.Kind(sel.Err),
			Message: sel.Err.Error(),
		}
	}
	return out
}

// SetFieldRequest edits one field of a session. Value is used for node,
// project and version; Values for spiders.
type SetFieldRequest struct {
	Value  string   `json:"value"`
	Values []string `json:"values"`
}

// SaveGroupRequest stores the current selection of a session as a group.
type SaveGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Group is the JSON form of a saved spider group.
type Group struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Node        string    `json:"node"`
	Project     string    `json:"project"`
	Version     string    `json:"version"`
	Spiders     []string  `json:"spiders"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewGroup converts a stored group into its wire form.
func NewGroup(g groups.Group) Group {
	return Group{
		Name:        g.Name,
		Description: g.Description,
		Node:        g.Node,
		Project:     g.Project,
		Version:     g.Version,
		Spiders:     g.Spiders,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

// Event types sent on a session's event stream.
const (
	EventSnapshot = "snapshot"
	EventChange   = "change"
)

// Event is one frame of a session's event stream. The first frame is always
// a snapshot; every later frame carries a single change.
type Event struct {
	Type      string          `json:"type"`
	Selection *Selection      `json:"selection,omitempty"`
	Change    *cascade.Change `json:"change,omitempty"`
}

// ErrorResponse is the body of every non-2xx gateway answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
