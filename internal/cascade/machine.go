// Package cascade resolves the dependent selection chain
// node -> project -> version -> spiders against live inventory.
//
// A Machine is a single actor per selection session. Edits are queued and
// applied in order on the actor goroutine; inventory fetches run in the
// background and post their results back to the actor, which applies a
// result only if it still belongs to the current selection.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/flo-mic/spidergroup/internal/inventory"
	"github.com/flo-mic/spidergroup/internal/version"
)

// ErrClosed is returned by edits issued after Close.
var ErrClosed = errors.New("cascade is closed")

const eventBuffer = 32

type eventKind int

const (
	evSetNode eventKind = iota
	evSetProject
	evSetVersion
	evSetSpiders
	evSettle
)

type event struct {
	kind   eventKind
	value  string
	values []string
	done   chan struct{}
}

// fetchTag is the selection snapshot a fetch was issued for.
type fetchTag struct {
	target  Field
	gen     uint64
	node    string
	project string
	version string
}

type fetchResult struct {
	tag  fetchTag
	opts []inventory.Option
	err  error
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithNodes fixes the node field's options. Without it any node id is
// forwarded to the inventory.
func WithNodes(nodes []inventory.Option) Option {
	return func(m *Machine) { m.nodes = nodes }
}

// Machine drives one selection session.
type Machine struct {
	inv   inventory.Inventory
	store *Store
	log   *slog.Logger
	nodes []inventory.Option

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan event
	results chan fetchResult
	done    chan struct{}

	// Owned by the actor goroutine.
	gen      [len(fieldNames)]uint64
	inflight [len(fieldNames)]bool
	waiters  []chan struct{}

	onDiscard func(fetchTag)
}

// New creates a machine and starts its actor. It stops when ctx is done or
// Close is called.
func New(ctx context.Context, inv inventory.Inventory, opts ...Option) *Machine {
	m := &Machine{
		inv:     inv,
		events:  make(chan event, eventBuffer),
		results: make(chan fetchResult),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.store = NewStore(m.nodes)
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.run()
	return m
}

// Store exposes the selection store for snapshots and subscriptions.
func (m *Machine) Store() *Store {
	return m.store
}

// Snapshot is shorthand for Store().Snapshot().
func (m *Machine) Snapshot() Selection {
	return m.store.Snapshot()
}

// Close stops the actor. Fetches still in flight are abandoned.
func (m *Machine) Close() {
	m.cancel()
	<-m.done
}

// SetNode selects a node; "" clears the whole chain.
func (m *Machine) SetNode(id string) error {
	return m.send(event{kind: evSetNode, value: id})
}

// SetProject selects a project on the current node; "" clears version and spiders.
func (m *Machine) SetProject(id string) error {
	return m.send(event{kind: evSetProject, value: id})
}

// SetVersion selects a version, or the sentinel for "latest at dispatch";
// "" clears the spiders.
func (m *Machine) SetVersion(id string) error {
	return m.send(event{kind: evSetVersion, value: id})
}

// SetSpiders picks spiders among the loaded spider options.
func (m *Machine) SetSpiders(ids []string) error {
	return m.send(event{kind: evSetSpiders, values: slices.Clone(ids)})
}

// Set routes a single-valued edit to the matching field.
func (m *Machine) Set(f Field, value string) error {
	switch f {
	case FieldNode:
		return m.SetNode(value)
	case FieldProject:
		return m.SetProject(value)
	case FieldVersion:
		return m.SetVersion(value)
	case FieldSpiders:
		if value == "" {
			return m.SetSpiders(nil)
		}
		return m.SetSpiders([]string{value})
	}
	return fmt.Errorf("unknown field %v", f)
}

// Settle blocks until every edit queued before it has been applied and no
// fetch for the current selection is outstanding. Superseded fetches are
// not waited for.
func (m *Machine) Settle(ctx context.Context) error {
	ch := make(chan struct{})
	if err := m.send(event{kind: evSettle, done: ch}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Machine) send(ev event) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

func (m *Machine) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			m.handle(ev)
		case res := <-m.results:
			m.apply(res)
		}
		m.releaseWaiters()
	}
}

func (m *Machine) handle(ev event) {
	switch ev.kind {
	case evSetNode:
		m.setNode(ev.value)
	case evSetProject:
		m.setProject(ev.value)
	case evSetVersion:
		m.setVersion(ev.value)
	case evSetSpiders:
		m.setSpiders(ev.values)
	case evSettle:
		m.waiters = append(m.waiters, ev.done)
	}
}

func (m *Machine) releaseWaiters() {
	if len(m.waiters) == 0 || m.busy() {
		return
	}
	for _, w := range m.waiters {
		close(w)
	}
	m.waiters = nil
}

func (m *Machine) busy() bool {
	for _, b := range m.inflight {
		if b {
			return true
		}
	}
	return false
}

// --- transitions ---

func (m *Machine) setNode(id string) {
	if id != "" && !m.store.hasOption(FieldNode, id) {
		m.reject(FieldNode, fmt.Sprintf("node %q is not registered", id))
		return
	}
	m.invalidate(FieldProject)
	m.store.clearFrom(FieldProject)
	m.store.setValue(FieldNode, id)
	if id == "" {
		return
	}
	m.fetch(FieldProject)
}

func (m *Machine) setProject(id string) {
	if id != "" {
		if m.store.value(FieldNode) == "" {
			m.reject(FieldProject, "no node selected")
			return
		}
		if !m.store.hasOption(FieldProject, id) {
			m.reject(FieldProject, fmt.Sprintf("project %q is not deployed on node %q", id, m.store.value(FieldNode)))
			return
		}
	}
	m.invalidate(FieldVersion)
	m.store.clearFrom(FieldVersion)
	m.store.setValue(FieldProject, id)
	if id == "" {
		return
	}
	m.fetch(FieldVersion)
}

func (m *Machine) setVersion(id string) {
	if id != "" {
		if m.store.value(FieldProject) == "" {
			m.reject(FieldVersion, "no project selected")
			return
		}
		if !m.store.hasOption(FieldVersion, id) {
			m.reject(FieldVersion, fmt.Sprintf("version %q is not available for project %q", id, m.store.value(FieldProject)))
			return
		}
	}
	m.invalidate(FieldSpiders)
	m.store.clearFrom(FieldSpiders)
	m.store.setValue(FieldVersion, id)
	if id == "" {
		return
	}
	m.fetch(FieldSpiders)
}

func (m *Machine) setSpiders(ids []string) {
	if m.store.State() != SpidersLoaded {
		m.reject(FieldSpiders, "spiders are not loaded")
		return
	}
	known := make(map[string]bool)
	for _, o := range m.store.spiderOptions() {
		known[o.ID] = true
	}
	picked := make([]string, 0, len(ids))
	var unknown []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		switch {
		case seen[id]:
		case known[id]:
			picked = append(picked, id)
		default:
			unknown = append(unknown, id)
		}
		seen[id] = true
	}
	m.store.setSpiders(picked)
	if len(unknown) > 0 {
		m.reject(FieldSpiders, fmt.Sprintf("unknown spiders dropped: %v", unknown))
	}
}

func (m *Machine) reject(f Field, msg string) {
	m.log.Warn("selection rejected", "field", f, "reason", msg)
	m.store.addNotice(Notice{Field: f, Kind: NoticeInvalidOption, Message: msg})
}

// invalidate supersedes every fetch targeting f or a field below it.
func (m *Machine) invalidate(f Field) {
	for g := f; g <= FieldSpiders; g++ {
		m.gen[g]++
		m.inflight[g] = false
	}
}

// --- fetches ---

func (m *Machine) fetch(target Field) {
	m.gen[target]++
	tag := fetchTag{
		target:  target,
		gen:     m.gen[target],
		node:    m.store.value(FieldNode),
		project: m.store.value(FieldProject),
		version: m.store.value(FieldVersion),
	}
	m.inflight[target] = true
	m.store.setLoading(target, true)
	cascadeFetchTotal.WithLabelValues(target.String()).Inc()
	m.log.Debug("fetching options", "field", target, "node", tag.node, "project", tag.project, "version", tag.version)

	go func() {
		start := time.Now()
		opts, err := m.query(tag)
		cascadeFetchDuration.WithLabelValues(target.String()).Observe(time.Since(start).Seconds())
		select {
		case m.results <- fetchResult{tag: tag, opts: opts, err: err}:
		case <-m.ctx.Done():
		}
	}()
}

func (m *Machine) query(tag fetchTag) ([]inventory.Option, error) {
	switch tag.target {
	case FieldProject:
		return m.inv.ListProjects(m.ctx, tag.node)
	case FieldVersion:
		return m.inv.ListVersions(m.ctx, tag.node, tag.project)
	case FieldSpiders:
		return m.inv.ListSpiders(m.ctx, tag.node, tag.project, version.Effective(tag.version))
	}
	return nil, fmt.Errorf("no fetch for field %v", tag.target)
}

// current reports whether a result still belongs to the selection: it must
// be the latest fetch for its field and the values above it unchanged.
func (m *Machine) current(tag fetchTag) bool {
	if tag.gen != m.gen[tag.target] {
		return false
	}
	if tag.node != m.store.value(FieldNode) {
		return false
	}
	if tag.target >= FieldVersion && tag.project != m.store.value(FieldProject) {
		return false
	}
	if tag.target >= FieldSpiders && tag.version != m.store.value(FieldVersion) {
		return false
	}
	return true
}

func (m *Machine) apply(res fetchResult) {
	tag := res.tag
	if !m.current(tag) {
		cascadeStaleDiscardTotal.WithLabelValues(tag.target.String()).Inc()
		m.log.Debug("discarding stale options", "field", tag.target, "node", tag.node, "project", tag.project, "version", tag.version)
		if m.onDiscard != nil {
			m.onDiscard(tag)
		}
		return
	}
	m.inflight[tag.target] = false

	if res.err != nil {
		m.fail(tag.target, res.err)
		return
	}

	switch tag.target {
	case FieldProject:
		m.store.setOptions(FieldProject, res.opts)
		// No project is auto-selected; the empty default still runs the
		// project transition so the fields below are cleared the same way.
		m.setProject("")
	case FieldVersion:
		r, err := version.Resolve(res.opts)
		if err != nil {
			m.fail(FieldVersion, err)
			return
		}
		m.store.setOptions(FieldVersion, r.Options)
		m.setVersion(r.Default)
	case FieldSpiders:
		m.store.setOptions(FieldSpiders, res.opts)
	}
}

// fail records a fetch error. The field and everything below it are reset,
// so an edit accepted while the options were loading does not survive.
// Recoverable errors leave the field without options and add a notice;
// anything else aborts the field with a hard error.
func (m *Machine) fail(f Field, err error) {
	kind := inventory.Kind(err)
	cascadeFetchErrorTotal.WithLabelValues(f.String(), kind).Inc()
	if f < FieldSpiders {
		m.invalidate(f + 1)
		m.store.clearFrom(f + 1)
		if m.store.value(f) != "" {
			m.store.setValue(f, "")
		}
	}
	m.store.markFailed(f)

	if errors.Is(err, inventory.ErrContractViolation) {
		m.log.Error("inventory contract violation", "field", f, "error", err)
		m.store.setErr(f, err)
		return
	}
	if inventory.Recoverable(err) {
		m.log.Warn("no options available", "field", f, "kind", kind, "error", err)
	} else {
		m.log.Error("fetch failed", "field", f, "kind", kind, "error", err)
	}
	m.store.addNotice(Notice{Field: f, Kind: kind, Message: err.Error()})
}
