package cascade

import (
	"slices"
	"sync"

	"github.com/flo-mic/spidergroup/internal/inventory"
)

// Selection is a point-in-time copy of the store.
type Selection struct {
	State            State
	Node             string
	Project          string
	Version          string
	Spiders          []string
	EffectiveVersion string
	Options          map[Field][]inventory.Option
	Loading          []Field
	Notices          []Notice
	// Err is a hard error that aborted the resolution of ErrField.
	Err      error
	ErrField Field
}

// Value returns the single value of a non-spider field.
func (s Selection) Value(f Field) string {
	switch f {
	case FieldNode:
		return s.Node
	case FieldProject:
		return s.Project
	case FieldVersion:
		return s.Version
	}
	return ""
}

// ChangeKind says what part of a field changed.
type ChangeKind string

const (
	ChangeValue   ChangeKind = "value"
	ChangeOptions ChangeKind = "options"
	ChangeCleared ChangeKind = "cleared"
	ChangeNotice  ChangeKind = "notice"
	ChangeError   ChangeKind = "error"
)

// Change is delivered to subscribers after every write.
type Change struct {
	Field   Field              `json:"field"`
	Kind    ChangeKind         `json:"kind"`
	Value   string             `json:"value,omitempty"`
	Values  []string           `json:"values,omitempty"`
	Options []inventory.Option `json:"options,omitempty"`
	Notice  *Notice            `json:"notice,omitempty"`
	Error   string             `json:"error,omitempty"`
	State   State              `json:"state"`
}

// Store holds the current value and options of each field. Only the machine
// that owns it writes; readers may call Snapshot from any goroutine.
// Subscribers run on the writer goroutine and must not block.
type Store struct {
	mu sync.RWMutex

	values        [FieldSpiders]string
	spiders       []string
	options       [len(fieldNames)][]inventory.Option
	loaded        [len(fieldNames)]bool
	loading       [len(fieldNames)]bool
	spidersLoaded bool
	notices       []Notice
	err           error
	errField      Field

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// NewStore creates an empty store. Node options are fixed for the life of
// the store; nil means any node id is accepted.
func NewStore(nodes []inventory.Option) *Store {
	s := &Store{subs: make(map[int]func(Change))}
	if nodes != nil {
		s.options[FieldNode] = slices.Clone(nodes)
		s.loaded[FieldNode] = true
	}
	return s
}

// Subscribe registers fn for every change and returns its unsubscribe func.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Snapshot returns a deep copy of the current selection.
func (s *Store) Snapshot() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sel := Selection{
		State:            s.stateLocked(),
		Node:             s.values[FieldNode],
		Project:          s.values[FieldProject],
		Version:          s.values[FieldVersion],
		Spiders:          slices.Clone(s.spiders),
		EffectiveVersion: s.values[FieldVersion],
		Options:          make(map[Field][]inventory.Option, len(Fields)),
		Notices:          slices.Clone(s.notices),
		Err:              s.err,
		ErrField:         s.errField,
	}
	if sel.Spiders == nil {
		sel.Spiders = []string{}
	}
	for _, f := range Fields {
		sel.Options[f] = slices.Clone(s.options[f])
		if sel.Options[f] == nil {
			sel.Options[f] = []inventory.Option{}
		}
		if s.loading[f] {
			sel.Loading = append(sel.Loading, f)
		}
	}
	return sel
}

// State returns the current position in the chain.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Store) stateLocked() State {
	switch {
	case s.values[FieldNode] == "":
		return Empty
	case s.values[FieldProject] == "":
		return NodeSelected
	case s.values[FieldVersion] == "":
		return ProjectSelected
	case !s.spidersLoaded:
		return VersionSelected
	default:
		return SpidersLoaded
	}
}

func (s *Store) value(f Field) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[f]
}

// hasOption reports whether id may be selected for f. Fields whose options
// have not arrived yet accept any id; the fetch result, or its failure,
// overwrites it.
func (s *Store) hasOption(f Field, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded[f] {
		return true
	}
	for _, o := range s.options[f] {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) spiderOptions() []inventory.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.options[FieldSpiders])
}

func (s *Store) setValue(f Field, v string) {
	s.mu.Lock()
	s.values[f] = v
	s.dropNoticesLocked(func(n Notice) bool { return n.Field == f })
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(Change{Field: f, Kind: ChangeValue, Value: v, State: st})
}

func (s *Store) setSpiders(ids []string) {
	s.mu.Lock()
	s.spiders = slices.Clone(ids)
	s.dropNoticesLocked(func(n Notice) bool { return n.Field == FieldSpiders && n.Kind == NoticeInvalidOption })
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(Change{Field: FieldSpiders, Kind: ChangeValue, Values: slices.Clone(ids), State: st})
}

func (s *Store) setLoading(f Field, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[f] = loading
}

// setOptions replaces a field's options. For the spider field it also marks
// the chain as fully loaded.
func (s *Store) setOptions(f Field, opts []inventory.Option) {
	if opts == nil {
		opts = []inventory.Option{}
	}
	s.mu.Lock()
	s.options[f] = slices.Clone(opts)
	s.loaded[f] = true
	s.loading[f] = false
	if f == FieldSpiders {
		s.spidersLoaded = true
	}
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(Change{Field: f, Kind: ChangeOptions, Options: slices.Clone(opts), State: st})
}

// clearFrom empties f and every field below it: values, options, notices
// and any hard error raised for them.
func (s *Store) clearFrom(f Field) {
	s.mu.Lock()
	for g := f; g <= FieldSpiders; g++ {
		if g < FieldSpiders {
			s.values[g] = ""
		}
		s.options[g] = nil
		s.loaded[g] = false
		s.loading[g] = false
	}
	s.spiders = nil
	s.spidersLoaded = false
	s.dropNoticesLocked(func(n Notice) bool { return n.Field >= f })
	if s.err != nil && s.errField >= f {
		s.err = nil
	}
	st := s.stateLocked()
	s.mu.Unlock()

	for g := f; g <= FieldSpiders; g++ {
		s.emit(Change{Field: g, Kind: ChangeCleared, State: st})
	}
}

// markFailed leaves f without options after a failed fetch. Unlike
// setOptions it never marks the spider field as loaded.
func (s *Store) markFailed(f Field) {
	s.mu.Lock()
	s.options[f] = []inventory.Option{}
	s.loaded[f] = true
	s.loading[f] = false
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(Change{Field: f, Kind: ChangeOptions, Options: []inventory.Option{}, State: st})
}

func (s *Store) addNotice(n Notice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(Change{Field: n.Field, Kind: ChangeNotice, Notice: &n, State: st})
}

func (s *Store) setErr(f Field, err error) {
	s.mu.Lock()
	s.err = err
	s.errField = f
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(Change{Field: f, Kind: ChangeError, Error: err.Error(), State: st})
}

func (s *Store) dropNoticesLocked(match func(Notice) bool) {
	s.notices = slices.DeleteFunc(s.notices, match)
}

func (s *Store) emit(c Change) {
	s.subMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
}
