// Package migrate keeps a node's definition set converging with the rest of
// the cluster: it watches version advertisements on the membership feed,
// pulls from diverged peers, applies every batch on one serialized stage,
// and pushes locally announced changes to live peers best-effort.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"schemadb/pkg/clock"
	"schemadb/pkg/dberrors"
	"schemadb/pkg/encoding"
	"schemadb/pkg/gossip"
	"schemadb/pkg/metrics"
	"schemadb/pkg/schema"
	"schemadb/pkg/transport"
	"schemadb/pkg/types"
)

// DefaultGraceWindow debounces redundant pulls while overlapping announces
// settle, and marks the post-startup period during which pulls are immediate.
const DefaultGraceWindow = 60 * time.Second

const defaultPullTimeout = 10 * time.Second

// Transport is the internode surface the manager needs: a synchronous pull
// and a one-way push. Delivery guarantees below the batch payload belong to
// the implementation.
type Transport interface {
	PullSchema(ctx context.Context, addr types.NodeID) ([]byte, error)
	PushDefinitions(addr types.NodeID, encoded []byte) error
}

type Options struct {
	Schema    *schema.Schema
	Store     *schema.Store // optional; nil disables persistence
	Feed      gossip.Feed
	Transport Transport
	Clock     *clock.Micros
	Metrics   metrics.Collector

	// Voter is false for observer-only members.
	Voter       bool
	GraceWindow time.Duration
	PullTimeout time.Duration
}

// Manager is the schema-agreement component. One instance exists per node,
// constructed at startup and passed to collaborators by reference.
type Manager struct {
	sch     *schema.Schema
	store   *schema.Store
	feed    gossip.Feed
	client  Transport
	stage   *Stage
	clk     *clock.Micros
	metrics metrics.Collector

	listeners listenerSet

	voter       bool
	grace       time.Duration
	pullTimeout time.Duration
	started     time.Time
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		sch:         opts.Schema,
		store:       opts.Store,
		feed:        opts.Feed,
		client:      opts.Transport,
		stage:       NewStage(),
		clk:         opts.Clock,
		metrics:     opts.Metrics,
		voter:       opts.Voter,
		grace:       opts.GraceWindow,
		pullTimeout: opts.PullTimeout,
		started:     time.Now(),
	}
	if m.sch == nil {
		m.sch = schema.New()
	}
	if m.clk == nil {
		m.clk = clock.NewMicros()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewInMemory()
	}
	if m.grace <= 0 {
		m.grace = DefaultGraceWindow
	}
	if m.pullTimeout <= 0 {
		m.pullTimeout = defaultPullTimeout
	}
	return m
}

// Restore merges the persisted snapshots into schema state. Call before
// Start, while nothing else touches the schema.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	b, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load schema snapshots: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	m.sch.Merge(b)
	slog.Info("restored schema snapshots", "records", len(b), "version", m.sch.Version())
	return nil
}

// Start subscribes to the feed and advertises the current version.
func (m *Manager) Start() {
	m.feed.Subscribe(m.handleEvent)
	m.advertise()
}

// Stop drains the apply stage.
func (m *Manager) Stop() {
	m.stage.Close()
}

// Schema exposes the local schema state for read access.
func (m *Manager) Schema() *schema.Schema { return m.sch }

// Ready reports whether no migration work is queued or running.
func (m *Manager) Ready() bool { return m.stage.Idle() }

// Metrics exposes the collector for the admin surface.
func (m *Manager) Metrics() metrics.Collector { return m.metrics }

// Register adds a schema change listener.
func (m *Manager) Register(l Listener) { m.listeners.add(l) }

// Unregister removes a schema change listener.
func (m *Manager) Unregister(l Listener) { m.listeners.remove(l) }

// handleEvent runs on the feed's delivery goroutine. Only a version
// advertisement, or a peer turning alive with one already set, carries a
// divergence signal; every other liveness transition is a deliberate no-op.
// It must never wait on stage work: a symmetric peer doing the same wait is
// a cross-node deadlock.
func (m *Manager) handleEvent(ev gossip.Event) {
	switch ev.Kind {
	case gossip.EventStateChange, gossip.EventAlive:
		if ev.Addr == m.feed.Self() {
			return
		}
		if ev.State.SchemaVersion == "" {
			return
		}
		theirs, err := uuid.Parse(ev.State.SchemaVersion)
		if err != nil {
			slog.Debug("unparseable schema version on feed", "peer", ev.Addr, "value", ev.State.SchemaVersion)
			return
		}
		m.maybeSchedulePull(ev.Addr, theirs)
	case gossip.EventDead, gossip.EventRestart, gossip.EventRemove, gossip.EventJoin:
		// divergence is detected through version advertisement only
	}
}

// maybeSchedulePull decides between pulling now and a debounced recheck.
func (m *Manager) maybeSchedulePull(addr types.NodeID, theirs uuid.UUID) {
	if theirs == m.sch.Version() {
		return
	}
	mem, ok := m.feed.Lookup(addr)
	if !ok || !m.shouldPullFrom(mem.State) {
		return
	}

	if m.sch.Version() == schema.EmptyVersion || time.Since(m.started) < m.grace {
		// bootstrapping or recently started: pull immediately
		m.submitPull(addr)
		return
	}

	// Delay the decision so overlapping announces from several peers settle
	// into one pull, then re-read the peer's current advertisement.
	time.AfterFunc(m.grace, func() { m.recheck(addr) })
}

func (m *Manager) recheck(addr types.NodeID) {
	mem, ok := m.feed.Lookup(addr)
	if !ok || !mem.Alive {
		return
	}
	theirs, err := uuid.Parse(mem.State.SchemaVersion)
	if err != nil {
		return
	}
	if theirs == m.sch.Version() || !m.shouldPullFrom(mem.State) {
		return
	}
	m.submitPull(addr)
}

// shouldPullFrom gates peer eligibility: never pull from a newer protocol
// major (its schema may not decode here) and never from an observer-only
// member.
func (m *Manager) shouldPullFrom(st gossip.State) bool {
	return st.ProtoVersion <= transport.CurrentVersion && st.Voter
}

// submitPull queues a one-shot migration task. Fire-and-forget for callers
// on the event-delivery path; the reset path waits on the returned channel.
func (m *Manager) submitPull(addr types.NodeID) <-chan error {
	t := &migrationTask{m: m, target: addr, created: time.Now()}
	return m.stage.Submit(t.run)
}

// applyBatch merges one batch. Runs on the apply stage only.
func (m *Manager) applyBatch(b schema.Batch) error {
	changes := m.sch.Merge(b)
	if len(changes) == 0 {
		// already fully reflected locally
		return nil
	}
	if m.store != nil {
		if err := m.store.Save(m.sch); err != nil {
			return fmt.Errorf("persist schema: %w", err)
		}
	}
	m.advertise()
	m.metrics.IncCounter("schema_mutations_applied_total", nil, float64(len(changes)))

	for _, l := range m.listeners.snapshot() {
		for _, c := range changes {
			l.OnSchemaChange(c)
		}
	}
	return nil
}

// advertise publishes the local version passively over the feed.
func (m *Manager) advertise() {
	v := m.sch.Version()
	st := gossip.State{
		SchemaVersion: v.String(),
		ProtoVersion:  transport.CurrentVersion,
		Voter:         m.voter,
	}
	if err := m.feed.Advertise(st); err != nil {
		slog.Warn("failed to advertise schema version", "version", v, "error", err)
		return
	}
	slog.Debug("gossiping schema version", "version", v)
}

// announce applies a locally originated batch and fans it out. Blocks only
// on the local application; remote delivery is best effort.
func (m *Manager) announce(b schema.Batch) error {
	encoded, err := encoding.EncodeBatch(b)
	if err != nil {
		return err
	}
	done := m.stage.Submit(func() error { return m.applyBatch(b) })
	m.pushToLivePeers(encoded)
	return <-done
}

// pushToLivePeers ships the encoded batch to every live peer able to decode
// the current batch format. Peers joining mid-fan-out self-detect skew via
// the feed.
func (m *Manager) pushToLivePeers(encoded []byte) {
	self := m.feed.Self()
	for _, mem := range m.feed.Members() {
		if mem.Addr == self {
			continue
		}
		if mem.State.ProtoVersion < transport.CurrentVersion {
			// an older major cannot decode this batch format; it will pull
			// once it observes the version skew
			continue
		}
		go func(addr types.NodeID) {
			if err := m.client.PushDefinitions(addr, encoded); err != nil {
				slog.Warn("definitions push failed", "peer", addr, "error", err)
				return
			}
			m.metrics.IncCounter("schema_pushes_total", nil, 1)
		}(mem.Addr)
	}
}

// HandleDefinitionsPush decodes a pushed batch and queues its application.
// A decode failure aborts only this batch.
func (m *Manager) HandleDefinitionsPush(data []byte) error {
	b, err := encoding.DecodeBatch(data)
	if err != nil {
		m.metrics.IncCounter("schema_decode_failures_total", nil, 1)
		return err
	}
	m.stage.Submit(func() error { return m.applyBatch(b) })
	return nil
}

// EncodeLocal renders the full local definition set for a pull response.
func (m *Manager) EncodeLocal() ([]byte, error) {
	return encoding.EncodeBatch(m.sch.ToBatch())
}

// AnnounceNewKeyspace announces a keyspace create to the cluster.
func (m *Manager) AnnounceNewKeyspace(def *schema.KeyspaceDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, ok := m.sch.Keyspace(def.Name); ok {
		return fmt.Errorf("keyspace %q: %w", def.Name, dberrors.ErrAlreadyExists)
	}
	slog.Info("create new keyspace", "keyspace", def.Name)
	return m.announce(schema.KeyspaceBatch(schema.CreateKeyspace, def, m.clk.Next()))
}

// AnnounceKeyspaceUpdate announces a backward-compatible keyspace change.
func (m *Manager) AnnounceKeyspaceUpdate(def *schema.KeyspaceDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	old, ok := m.sch.Keyspace(def.Name)
	if !ok {
		return fmt.Errorf("keyspace %q: %w", def.Name, dberrors.ErrNotFound)
	}
	if err := old.ValidateCompatibility(def); err != nil {
		return err
	}
	slog.Info("update keyspace", "keyspace", def.Name)
	return m.announce(schema.KeyspaceBatch(schema.UpdateKeyspace, def, m.clk.Next()))
}

// AnnounceKeyspaceDrop announces removal of a keyspace.
func (m *Manager) AnnounceKeyspaceDrop(name string) error {
	if _, ok := m.sch.Keyspace(name); !ok {
		return fmt.Errorf("keyspace %q: %w", name, dberrors.ErrNotFound)
	}
	slog.Info("drop keyspace", "keyspace", name)
	return m.announce(schema.DropBatch(schema.DropKeyspace, name, "", m.clk.Next()))
}

// AnnounceNewTable announces a table create.
func (m *Manager) AnnounceNewTable(def *schema.TableDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, ok := m.sch.Keyspace(def.Keyspace); !ok {
		return fmt.Errorf("keyspace %q for table %q: %w", def.Keyspace, def.Name, dberrors.ErrNotFound)
	}
	if _, ok := m.sch.Table(def.Keyspace, def.Name); ok {
		return fmt.Errorf("table %q.%q: %w", def.Keyspace, def.Name, dberrors.ErrAlreadyExists)
	}
	slog.Info("create new table", "keyspace", def.Keyspace, "table", def.Name)
	return m.announce(schema.TableBatch(schema.CreateTable, def, m.clk.Next()))
}

// AnnounceTableUpdate announces a backward-compatible table change.
func (m *Manager) AnnounceTableUpdate(def *schema.TableDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	old, ok := m.sch.Table(def.Keyspace, def.Name)
	if !ok {
		return fmt.Errorf("table %q.%q: %w", def.Keyspace, def.Name, dberrors.ErrNotFound)
	}
	if err := old.ValidateCompatibility(def); err != nil {
		return err
	}
	slog.Info("update table", "keyspace", def.Keyspace, "table", def.Name)
	return m.announce(schema.TableBatch(schema.UpdateTable, def, m.clk.Next()))
}

// AnnounceTableDrop announces removal of a table.
func (m *Manager) AnnounceTableDrop(keyspace, name string) error {
	if _, ok := m.sch.Table(keyspace, name); !ok {
		return fmt.Errorf("table %q.%q: %w", keyspace, name, dberrors.ErrNotFound)
	}
	slog.Info("drop table", "keyspace", keyspace, "table", name)
	return m.announce(schema.DropBatch(schema.DropTable, keyspace, name, m.clk.Next()))
}

// AnnounceNewType announces a user type create.
func (m *Manager) AnnounceNewType(def *schema.TypeDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, ok := m.sch.Keyspace(def.Keyspace); !ok {
		return fmt.Errorf("keyspace %q for type %q: %w", def.Keyspace, def.Name, dberrors.ErrNotFound)
	}
	if _, ok := m.sch.Type(def.Keyspace, def.Name); ok {
		return fmt.Errorf("type %q.%q: %w", def.Keyspace, def.Name, dberrors.ErrAlreadyExists)
	}
	slog.Info("create new type", "keyspace", def.Keyspace, "type", def.Name)
	return m.announce(schema.TypeBatch(schema.CreateType, def, m.clk.Next()))
}

// AnnounceTypeUpdate announces a backward-compatible user type change.
func (m *Manager) AnnounceTypeUpdate(def *schema.TypeDef) error {
	if err := def.Validate(); err != nil {
		return err
	}
	old, ok := m.sch.Type(def.Keyspace, def.Name)
	if !ok {
		return fmt.Errorf("type %q.%q: %w", def.Keyspace, def.Name, dberrors.ErrNotFound)
	}
	if err := old.ValidateCompatibility(def); err != nil {
		return err
	}
	slog.Info("update type", "keyspace", def.Keyspace, "type", def.Name)
	return m.announce(schema.TypeBatch(schema.UpdateType, def, m.clk.Next()))
}

// AnnounceTypeDrop announces removal of a user type.
func (m *Manager) AnnounceTypeDrop(keyspace, name string) error {
	if _, ok := m.sch.Type(keyspace, name); !ok {
		return fmt.Errorf("type %q.%q: %w", keyspace, name, dberrors.ErrNotFound)
	}
	slog.Info("drop type", "keyspace", keyspace, "type", name)
	return m.announce(schema.DropBatch(schema.DropType, keyspace, name, m.clk.Next()))
}

// ResetLocalSchema truncates persisted schema storage, clears local state to
// the empty sentinel and pulls from the first eligible live peer, if any.
// Operator-invoked; not part of normal operation. Truncation failure aborts
// the reset; a partial truncation is not rolled back.
func (m *Manager) ResetLocalSchema(ctx context.Context) error {
	slog.Info("starting local schema reset")

	if m.store != nil {
		slog.Debug("truncating schema snapshots")
		if err := m.store.Truncate(); err != nil {
			return fmt.Errorf("truncate schema storage: %w", err)
		}
	}

	done := m.stage.Submit(func() error {
		m.sch.Clear()
		m.advertise()
		return nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
	}

	self := m.feed.Self()
	for _, mem := range m.feed.Members() {
		if mem.Addr == self || !m.shouldPullFrom(mem.State) {
			continue
		}
		slog.Debug("requesting schema", "peer", mem.Addr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-m.submitPull(mem.Addr):
			if err != nil {
				// stay at the empty sentinel; a future divergence signal
				// restarts convergence
				slog.Warn("reset pull failed", "peer", mem.Addr, "error", err)
			}
		}
		break
	}

	slog.Info("local schema reset complete")
	return nil
}
