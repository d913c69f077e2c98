package cascade

import "fmt"

// Field is one slot of the selection chain, ordered root first.
type Field int

const (
	FieldNode Field = iota
	FieldProject
	FieldVersion
	FieldSpiders
)

var fieldNames = [...]string{"node", "project", "version", "spiders"}

// Fields lists every field in chain order.
var Fields = []Field{FieldNode, FieldProject, FieldVersion, FieldSpiders}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// MarshalText lets fields appear by name in JSON.
func (f Field) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Field) UnmarshalText(b []byte) error {
	parsed, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseField maps "node", "project", "version" or "spiders" to its Field.
func ParseField(s string) (Field, error) {
	for i, n := range fieldNames {
		if n == s {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", s)
}

// State is how far down the chain the selection is populated.
type State int

const (
	Empty State = iota
	NodeSelected
	ProjectSelected
	VersionSelected
	SpidersLoaded
)

var stateNames = [...]string{"empty", "node_selected", "project_selected", "version_selected", "spiders_loaded"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Notice is a non-fatal problem attached to a field: its options could not
// be fetched, or an edit named an option that does not exist.
type Notice struct {
	Field   Field  `json:"field"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NoticeInvalidOption is the kind used when an edit is rejected.
const NoticeInvalidOption = "invalid_option"
