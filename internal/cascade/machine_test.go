package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flo-mic/spidergroup/internal/inventory"
)

// fakeInventory answers from maps keyed by "projects|node",
// "versions|node|project" and "spiders|node|project|version". A gate for a
// key blocks the call until the gate channel is closed.
type fakeInventory struct {
	mu      sync.Mutex
	data    map[string][]inventory.Option
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   []string
	started chan string
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		data:    make(map[string][]inventory.Option),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (f *fakeInventory) set(key string, opts ...inventory.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = opts
}

func (f *fakeInventory) gate(key string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[key] = ch
	return ch
}

func (f *fakeInventory) answer(ctx context.Context, key string) ([]inventory.Option, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	gate := f.gates[key]
	f.mu.Unlock()
	f.started <- key

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.data[key], nil
}

func (f *fakeInventory) ListProjects(ctx context.Context, node string) ([]inventory.Option, error) {
	return f.answer(ctx, "projects|"+node)
}

func (f *fakeInventory) ListVersions(ctx context.Context, node, project string) ([]inventory.Option, error) {
	return f.answer(ctx, "versions|"+node+"|"+project)
}

func (f *fakeInventory) ListSpiders(ctx context.Context, node, project, version string) ([]inventory.Option, error) {
	return f.answer(ctx, "spiders|"+node+"|"+project+"|"+version)
}

func (f *fakeInventory) callsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func opt(id, label string) inventory.Option {
	return inventory.Option{ID: id, Label: label}
}

func withDiscardHook(fn func(fetchTag)) Option {
	return func(m *Machine) { m.onDiscard = fn }
}

func newMachine(t *testing.T, inv inventory.Inventory, opts ...Option) *Machine {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	m := New(context.Background(), inv, opts...)
	t.Cleanup(m.Close)
	return m
}

func settle(t *testing.T, m *Machine) Selection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Settle(ctx); err != nil {
		t.Fatalf("settle: %v", err)
	}
	return m.Snapshot()
}

func waitStarted(t *testing.T, inv *fakeInventory, key string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case k := <-inv.started:
			if k == key {
				return
			}
		case <-timeout:
			t.Fatalf("fetch %q never started", key)
		}
	}
}

// scenarioInventory: node N1 hosts P1 with versions v7, v6 and spiders for
// each, node N0 hosts nothing.
func scenarioInventory() *fakeInventory {
	inv := newFakeInventory()
	inv.set("projects|N0")
	inv.set("projects|N1", opt("P1", "P1"), opt("P2", "P2"))
	inv.set("versions|N1|P1", opt("7", "v7"), opt("6", "v6"))
	inv.set("versions|N1|P2")
	inv.set("spiders|N1|P1|0", opt("products", "products"), opt("reviews", "reviews"))
	inv.set("spiders|N1|P1|7", opt("products", "products"), opt("reviews", "reviews"))
	inv.set("spiders|N1|P1|6", opt("products", "products"))
	return inv
}

func TestSetNode_NoProjects(t *testing.T) {
	m := newMachine(t, scenarioInventory())

	m.SetNode("N0")
	sel := settle(t, m)

	if sel.State != NodeSelected {
		t.Errorf("State = %v, want %v", sel.State, NodeSelected)
	}
	if len(sel.Options[FieldProject]) != 0 {
		t.Errorf("expected no project options, got %v", sel.Options[FieldProject])
	}
	if sel.Project != "" {
		t.Errorf("project must not be auto-selected, got %q", sel.Project)
	}
}

func TestScenario_AutoLatestVersion(t *testing.T) {
	inv := scenarioInventory()
	m := newMachine(t, inv)

	m.SetNode("N1")
	sel := settle(t, m)
	if sel.State != NodeSelected || sel.Project != "" {
		t.Fatalf("after SetNode: state %v project %q", sel.State, sel.Project)
	}
	if want := []inventory.Option{opt("P1", "P1"), opt("P2", "P2")}; !reflect.DeepEqual(sel.Options[FieldProject], want) {
		t.Errorf("project options = %v, want %v", sel.Options[FieldProject], want)
	}

	m.SetProject("P1")
	sel = settle(t, m)

	wantVersions := []inventory.Option{opt("0", "auto-latest [v7]"), opt("7", "v7"), opt("6", "v6")}
	if !reflect.DeepEqual(sel.Options[FieldVersion], wantVersions) {
		t.Errorf("version options = %v, want %v", sel.Options[FieldVersion], wantVersions)
	}
	if sel.Version != "0" || sel.EffectiveVersion != "0" {
		t.Errorf("version = %q effective = %q, want sentinel", sel.Version, sel.EffectiveVersion)
	}
	// The pre-selected sentinel cascades straight into a spider fetch.
	if sel.State != SpidersLoaded {
		t.Errorf("State = %v, want %v", sel.State, SpidersLoaded)
	}
	if got := inv.callsWithPrefix("spiders|"); !reflect.DeepEqual(got, []string{"spiders|N1|P1|0"}) {
		t.Errorf("spider fetches = %v", got)
	}

	m.SetVersion("0")
	settle(t, m)
	if got := inv.callsWithPrefix("spiders|"); len(got) != 2 || got[1] != "spiders|N1|P1|0" {
		t.Errorf("SetVersion(0) must fetch with the sentinel, calls = %v", got)
	}

	m.SetVersion("6")
	sel = settle(t, m)
	if sel.EffectiveVersion != "6" {
		t.Errorf("EffectiveVersion = %q, want 6", sel.EffectiveVersion)
	}
	if want := []inventory.Option{opt("products", "products")}; !reflect.DeepEqual(sel.Options[FieldSpiders], want) {
		t.Errorf("spider options = %v", sel.Options[FieldSpiders])
	}
}

func TestSetProject_NoVersions(t *testing.T) {
	inv := scenarioInventory()
	inv.set("spiders|N1|P2|0", opt("only", "only"))
	m := newMachine(t, inv)

	m.SetNode("N1")
	settle(t, m)
	m.SetProject("P2")
	sel := settle(t, m)

	want := []inventory.Option{{ID: "0", Label: "auto-latest [no versions available]", Disabled: true}}
	if !reflect.DeepEqual(sel.Options[FieldVersion], want) {
		t.Errorf("version options = %v, want %v", sel.Options[FieldVersion], want)
	}
	if sel.Version != "0" {
		t.Errorf("Version = %q, want sentinel", sel.Version)
	}
}

func TestSetNode_Idempotent(t *testing.T) {
	once := newMachine(t, scenarioInventory())
	once.SetNode("N1")
	a := settle(t, once)

	twice := newMachine(t, scenarioInventory())
	twice.SetNode("N1")
	twice.SetNode("N1")
	b := settle(t, twice)

	if !reflect.DeepEqual(a, b) {
		t.Errorf("selections differ:\nonce:  %+v\ntwice: %+v", a, b)
	}
}

func TestSetProjectEmpty_InvalidatesChain(t *testing.T) {
	m := newMachine(t, scenarioInventory())
	m.SetNode("N1")
	settle(t, m)
	m.SetProject("P1")
	settle(t, m)
	m.SetSpiders([]string{"products"})
	sel := settle(t, m)
	if sel.State != SpidersLoaded || len(sel.Spiders) != 1 {
		t.Fatalf("setup: state %v spiders %v", sel.State, sel.Spiders)
	}

	m.SetProject("")
	sel = settle(t, m)

	if sel.State != NodeSelected {
		t.Errorf("State = %v, want %v", sel.State, NodeSelected)
	}
	if sel.Version != "" || len(sel.Spiders) != 0 {
		t.Errorf("version %q spiders %v should be cleared", sel.Version, sel.Spiders)
	}
	if len(sel.Options[FieldVersion]) != 0 || len(sel.Options[FieldSpiders]) != 0 {
		t.Errorf("downstream options should be cleared: %v", sel.Options)
	}
	if len(sel.Options[FieldProject]) != 2 {
		t.Errorf("project options must survive, got %v", sel.Options[FieldProject])
	}
}

func TestSetNodeEmpty_ReturnsToEmpty(t *testing.T) {
	m := newMachine(t, scenarioInventory())
	m.SetNode("N1")
	settle(t, m)
	m.SetProject("P1")
	settle(t, m)

	m.SetNode("")
	sel := settle(t, m)
	if sel.State != Empty || sel.Node != "" || sel.Project != "" || sel.Version != "" {
		t.Errorf("expected empty selection, got %+v", sel)
	}
	for _, f := range []Field{FieldProject, FieldVersion, FieldSpiders} {
		if len(sel.Options[f]) != 0 {
			t.Errorf("%v options not cleared: %v", f, sel.Options[f])
		}
	}
}

func TestRace_StaleProjectsDiscarded(t *testing.T) {
	inv := newFakeInventory()
	inv.set("projects|A", opt("fromA", "fromA"))
	inv.set("projects|B", opt("fromB", "fromB"))
	gateA := inv.gate("projects|A")

	discarded := make(chan fetchTag, 1)
	m := newMachine(t, inv, withDiscardHook(func(tag fetchTag) { discarded <- tag }))

	m.SetNode("A")
	waitStarted(t, inv, "projects|A")
	m.SetNode("B")
	sel := settle(t, m)
	if want := []inventory.Option{opt("fromB", "fromB")}; !reflect.DeepEqual(sel.Options[FieldProject], want) {
		t.Fatalf("project options = %v, want B's", sel.Options[FieldProject])
	}

	// A completes last and must not win.
	close(gateA)
	select {
	case tag := <-discarded:
		if tag.node != "A" || tag.target != FieldProject {
			t.Errorf("discarded %+v, want A's project fetch", tag)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale fetch was never discarded")
	}

	sel = settle(t, m)
	if sel.Node != "B" {
		t.Errorf("Node = %q", sel.Node)
	}
	if want := []inventory.Option{opt("fromB", "fromB")}; !reflect.DeepEqual(sel.Options[FieldProject], want) {
		t.Errorf("project options = %v, want B's", sel.Options[FieldProject])
	}
}

func TestRace_StaleVersionsDiscarded(t *testing.T) {
	inv := scenarioInventory()
	gate := inv.gate("versions|N1|P1")

	discarded := make(chan fetchTag, 4)
	m := newMachine(t, inv, withDiscardHook(func(tag fetchTag) { discarded <- tag }))
	m.SetNode("N1")
	settle(t, m)

	m.SetProject("P1")
	waitStarted(t, inv, "versions|N1|P1")
	m.SetProject("P2")
	settle(t, m)
	close(gate)

	select {
	case <-discarded:
	case <-time.After(2 * time.Second):
		t.Fatal("stale version fetch was never discarded")
	}
	sel := settle(t, m)
	if sel.Project != "P2" {
		t.Errorf("Project = %q", sel.Project)
	}
	if len(sel.Options[FieldVersion]) != 1 || !sel.Options[FieldVersion][0].Disabled {
		t.Errorf("version options should be P2's, got %v", sel.Options[FieldVersion])
	}
}

func TestPendingEditOverwrittenByFetch(t *testing.T) {
	inv := scenarioInventory()
	gate := inv.gate("projects|N1")
	m := newMachine(t, inv)

	m.SetNode("N1")
	waitStarted(t, inv, "projects|N1")
	// Accepted while project options are still loading...
	m.SetProject("P1")
	close(gate)
	sel := settle(t, m)

	// ...then overwritten by the authoritative empty project default.
	if sel.Project != "" || sel.State != NodeSelected {
		t.Errorf("project = %q state = %v, want pending edit overwritten", sel.Project, sel.State)
	}
}

func TestPendingEditDroppedOnFetchError(t *testing.T) {
	cases := []struct {
		name      string
		prepare   func(inv *fakeInventory)
		drive     func(t *testing.T, m *Machine, inv *fakeInventory)
		release   string
		wantState State
		wantField Field
		wantHard  bool
	}{
		{
			name: "project edit while projects fail",
			prepare: func(inv *fakeInventory) {
				inv.errs["projects|N1"] = fmt.Errorf("node N1: %w", inventory.ErrUnavailableNode)
			},
			drive: func(t *testing.T, m *Machine, inv *fakeInventory) {
				m.SetNode("N1")
				waitStarted(t, inv, "projects|N1")
				m.SetProject("P1")
			},
			release:   "projects|N1",
			wantState: NodeSelected,
			wantField: FieldProject,
		},
		{
			name: "pinned version while versions break the contract",
			prepare: func(inv *fakeInventory) {
				inv.set("versions|N1|P1", opt("7", "v7"), opt("0", "bogus"))
			},
			drive: func(t *testing.T, m *Machine, inv *fakeInventory) {
				m.SetNode("N1")
				settle(t, m)
				m.SetProject("P1")
				waitStarted(t, inv, "versions|N1|P1")
				m.SetVersion("7")
			},
			release:   "versions|N1|P1",
			wantState: ProjectSelected,
			wantField: FieldVersion,
			wantHard:  true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			inv := scenarioInventory()
			c.prepare(inv)
			gate := inv.gate(c.release)
			m := newMachine(t, inv)

			c.drive(t, m, inv)
			close(gate)
			sel := settle(t, m)

			if sel.State != c.wantState {
				t.Errorf("State = %v, want %v", sel.State, c.wantState)
			}
			if got := sel.Value(c.wantField); got != "" {
				t.Errorf("%v = %q, want the pending edit dropped", c.wantField, got)
			}
			for f := c.wantField + 1; f <= FieldSpiders; f++ {
				if len(sel.Options[f]) != 0 {
					t.Errorf("%v options = %v, want none", f, sel.Options[f])
				}
			}
			if len(sel.Spiders) != 0 {
				t.Errorf("Spiders = %v, want none", sel.Spiders)
			}
			if c.wantHard {
				if !errors.Is(sel.Err, inventory.ErrContractViolation) || sel.ErrField != c.wantField {
					t.Errorf("Err = %v (field %v), want contract violation on %v", sel.Err, sel.ErrField, c.wantField)
				}
			} else if len(sel.Notices) != 1 || sel.Notices[0].Field != c.wantField {
				t.Errorf("notices = %+v", sel.Notices)
			}
		})
	}
}

func TestFetchErrors_BecomeNotices(t *testing.T) {
	cases := []struct {
		name      string
		key       string
		err       error
		drive     func(t *testing.T, m *Machine)
		wantState State
		wantField Field
		wantKind  string
	}{
		{
			name:      "unavailable node",
			key:       "projects|N1",
			err:       fmt.Errorf("node N1: %w", inventory.ErrUnavailableNode),
			drive:     func(t *testing.T, m *Machine) { m.SetNode("N1") },
			wantState: NodeSelected,
			wantField: FieldProject,
			wantKind:  "unavailable_node",
		},
		{
			name: "unknown project",
			key:  "versions|N1|P1",
			err:  inventory.ErrUnknownProject,
			drive: func(t *testing.T, m *Machine) {
				m.SetNode("N1")
				settle(t, m)
				m.SetProject("P1")
			},
			wantState: ProjectSelected,
			wantField: FieldVersion,
			wantKind:  "unknown_project",
		},
		{
			name: "unknown version",
			key:  "spiders|N1|P1|0",
			err:  inventory.ErrUnknownVersion,
			drive: func(t *testing.T, m *Machine) {
				m.SetNode("N1")
				settle(t, m)
				m.SetProject("P1")
			},
			wantState: VersionSelected,
			wantField: FieldSpiders,
			wantKind:  "unknown_version",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			inv := scenarioInventory()
			inv.errs[c.key] = c.err
			m := newMachine(t, inv)

			c.drive(t, m)
			sel := settle(t, m)

			if sel.State != c.wantState {
				t.Errorf("State = %v, want %v", sel.State, c.wantState)
			}
			if sel.Err != nil {
				t.Errorf("recoverable error surfaced as hard error: %v", sel.Err)
			}
			if len(sel.Options[c.wantField]) != 0 {
				t.Errorf("%v options = %v, want none", c.wantField, sel.Options[c.wantField])
			}
			if len(sel.Notices) != 1 || sel.Notices[0].Field != c.wantField || sel.Notices[0].Kind != c.wantKind {
				t.Errorf("notices = %+v", sel.Notices)
			}
		})
	}
}

func TestNoticeClearedOnRefetch(t *testing.T) {
	inv := scenarioInventory()
	inv.errs["projects|N1"] = inventory.ErrUnavailableNode
	m := newMachine(t, inv)
	m.SetNode("N1")
	if sel := settle(t, m); len(sel.Notices) != 1 {
		t.Fatalf("expected a notice, got %+v", sel.Notices)
	}

	inv.mu.Lock()
	delete(inv.errs, "projects|N1")
	inv.mu.Unlock()
	m.SetNode("N1")
	sel := settle(t, m)
	if len(sel.Notices) != 0 {
		t.Errorf("notice should be cleared, got %+v", sel.Notices)
	}
	if len(sel.Options[FieldProject]) != 2 {
		t.Errorf("project options = %v", sel.Options[FieldProject])
	}
}

func TestContractViolation_IsHardError(t *testing.T) {
	inv := scenarioInventory()
	inv.set("versions|N1|P1", opt("7", "v7"), opt("0", "bogus"))
	m := newMachine(t, inv)

	m.SetNode("N1")
	settle(t, m)
	m.SetProject("P1")
	sel := settle(t, m)

	if !errors.Is(sel.Err, inventory.ErrContractViolation) || sel.ErrField != FieldVersion {
		t.Fatalf("Err = %v (field %v), want contract violation on version", sel.Err, sel.ErrField)
	}
	if sel.State != ProjectSelected {
		t.Errorf("State = %v, want %v", sel.State, ProjectSelected)
	}
	if len(sel.Options[FieldVersion]) != 0 {
		t.Errorf("version options must not be populated: %v", sel.Options[FieldVersion])
	}
	if got := inv.callsWithPrefix("spiders|"); len(got) != 0 {
		t.Errorf("no spider fetch expected, got %v", got)
	}

	m.SetVersion("7")
	sel = settle(t, m)
	if sel.Version != "" {
		t.Errorf("version %q accepted after aborted resolution", sel.Version)
	}

	// Changing the project clears the hard error.
	m.SetProject("P2")
	sel = settle(t, m)
	if sel.Err != nil {
		t.Errorf("Err should be cleared, got %v", sel.Err)
	}
}

func TestInvalidEdits_Rejected(t *testing.T) {
	inv := scenarioInventory()
	m := newMachine(t, inv, WithNodes([]inventory.Option{opt("N0", "zero"), opt("N1", "one")}))

	m.SetProject("P1")
	sel := settle(t, m)
	if sel.Project != "" || len(sel.Notices) != 1 || sel.Notices[0].Kind != NoticeInvalidOption {
		t.Errorf("project without node: project %q notices %+v", sel.Project, sel.Notices)
	}

	m.SetNode("N9")
	sel = settle(t, m)
	if sel.Node != "" {
		t.Errorf("unregistered node accepted: %q", sel.Node)
	}

	m.SetNode("N1")
	settle(t, m)
	m.SetProject("nope")
	sel = settle(t, m)
	if sel.Project != "" {
		t.Errorf("unknown project accepted: %q", sel.Project)
	}
	if len(sel.Notices) != 1 || sel.Notices[0].Field != FieldProject {
		t.Errorf("notices = %+v", sel.Notices)
	}
	if got := inv.callsWithPrefix("projects|N9"); len(got) != 0 {
		t.Errorf("rejected node must not be fetched: %v", got)
	}
}

func TestSetSpiders(t *testing.T) {
	m := newMachine(t, scenarioInventory())

	m.SetSpiders([]string{"products"})
	if sel := settle(t, m); len(sel.Spiders) != 0 || len(sel.Notices) != 1 {
		t.Errorf("spiders before load: %v notices %+v", sel.Spiders, sel.Notices)
	}

	m.SetNode("N1")
	settle(t, m)
	m.SetProject("P1")
	settle(t, m)
	m.SetSpiders([]string{"reviews", "ghost", "reviews", "products"})
	sel := settle(t, m)

	if want := []string{"reviews", "products"}; !reflect.DeepEqual(sel.Spiders, want) {
		t.Errorf("Spiders = %v, want %v", sel.Spiders, want)
	}
	if len(sel.Notices) != 1 || !strings.Contains(sel.Notices[0].Message, "ghost") {
		t.Errorf("notices = %+v", sel.Notices)
	}
}

func TestSubscribe_ReceivesClears(t *testing.T) {
	m := newMachine(t, scenarioInventory())
	m.SetNode("N1")
	settle(t, m)
	m.SetProject("P1")
	settle(t, m)

	var mu sync.Mutex
	var changes []Change
	unsub := m.Store().Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})
	m.SetNode("")
	settle(t, m)
	unsub()

	mu.Lock()
	defer mu.Unlock()
	cleared := map[Field]bool{}
	for _, c := range changes {
		if c.Kind == ChangeCleared {
			cleared[c.Field] = true
		}
	}
	for _, f := range []Field{FieldProject, FieldVersion, FieldSpiders} {
		if !cleared[f] {
			t.Errorf("no cleared change for %v: %+v", f, changes)
		}
	}
	last := changes[len(changes)-1]
	if last.Field != FieldNode || last.Kind != ChangeValue || last.State != Empty {
		t.Errorf("last change = %+v", last)
	}
}

func TestClose(t *testing.T) {
	m := New(context.Background(), scenarioInventory(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	m.Close()

	if err := m.SetNode("N1"); !errors.Is(err, ErrClosed) {
		t.Errorf("SetNode after Close = %v, want ErrClosed", err)
	}
	if err := m.Settle(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Settle after Close = %v, want ErrClosed", err)
	}
}

func TestSettle_RespectsContext(t *testing.T) {
	inv := scenarioInventory()
	inv.gate("projects|N1")
	m := newMachine(t, inv)
	m.SetNode("N1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Settle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Settle = %v, want deadline exceeded", err)
	}
	if sel := m.Snapshot(); len(sel.Loading) != 1 || sel.Loading[0] != FieldProject {
		t.Errorf("Loading = %v, want [project]", sel.Loading)
	}
}
