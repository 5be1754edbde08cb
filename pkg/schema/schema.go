package schema

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zhangyunhao116/skipmap"

	"schemadb/pkg/types"
)

type targetKind uint8

const (
	targetKeyspace targetKind = iota + 1
	targetTable
	targetType
)

// entry is the stored state of one target: the last winning mutation for it.
// Drops leave a tombstone so a pull can propagate the removal.
type entry struct {
	Target    targetKind      `json:"target"`
	Keyspace  string          `json:"keyspace"`
	Name      string          `json:"name,omitempty"`
	Timestamp types.Timestamp `json:"timestamp"`
	Deleted   bool            `json:"deleted,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// targetKey keeps every target of a keyspace adjacent in iteration order.
func targetKey(t targetKind, keyspace, name string) string {
	switch t {
	case targetKeyspace:
		return keyspace + "\x00k"
	case targetTable:
		return keyspace + "\x00t\x00" + name
	default:
		return keyspace + "\x00u\x00" + name
	}
}

type entryMap = skipmap.FuncMap[string, *entry]

func newEntryMap() *entryMap {
	return skipmap.NewFunc[string, *entry](func(a, b string) bool { return a < b })
}

// versionSpace is the fixed namespace for the v3 UUID fingerprint.
var versionSpace = uuid.MustParse("9a0c5e1f-6d3b-4a52-8b07-1f2ce1d4a9e3")

// EmptyVersion is the version of the empty definition set. It marks an
// uninitialized (or freshly reset) node.
var EmptyVersion = uuid.NewMD5(versionSpace, nil)

// Change describes one committed definition change, reported to listeners.
type Change struct {
	Kind     ChangeKind
	Keyspace string
	Name     string
}

// Schema holds the merged set of definitions and the derived version
// fingerprint. Mutation goes through Merge and Clear only; both are expected
// to run on the serialized apply stage. Reads are safe at any time.
type Schema struct {
	entries atomic.Pointer[entryMap]
	version atomic.Pointer[uuid.UUID]
}

func New() *Schema {
	s := &Schema{}
	s.entries.Store(newEntryMap())
	v := EmptyVersion
	s.version.Store(&v)
	return s
}

// Version returns the current fingerprint of the definition set.
func (s *Schema) Version() uuid.UUID {
	return *s.version.Load()
}

// newerThan reports whether m wins over old. Ties on timestamp are broken by
// content so that merge order never matters.
func newerThan(m Mutation, old *entry) bool {
	if m.Timestamp != old.Timestamp {
		return m.Timestamp > old.Timestamp
	}
	del := m.Kind.IsDrop()
	if del != old.Deleted {
		return del
	}
	return bytes.Compare(m.Payload, old.Payload) > 0
}

// Merge applies a batch with last-write-wins-per-target semantics and
// recomputes the version. Re-applying an already merged batch is a no-op.
// The returned changes cover only the records that actually took effect.
func (s *Schema) Merge(b Batch) []Change {
	m := s.entries.Load()
	var applied []Change
	for _, mut := range b {
		key := targetKey(mut.Kind.target(), mut.Keyspace, mut.Name)
		if old, ok := m.Load(key); ok && !newerThan(mut, old) {
			continue
		}
		m.Store(key, &entry{
			Target:    mut.Kind.target(),
			Keyspace:  mut.Keyspace,
			Name:      mut.Name,
			Timestamp: mut.Timestamp,
			Deleted:   mut.Kind.IsDrop(),
			Payload:   mut.Payload,
		})
		applied = append(applied, Change{Kind: mut.Kind, Keyspace: mut.Keyspace, Name: mut.Name})
	}
	if len(applied) > 0 {
		s.recomputeVersion()
	}
	return applied
}

// Clear resets the state to the empty sentinel.
func (s *Schema) Clear() {
	s.entries.Store(newEntryMap())
	v := EmptyVersion
	s.version.Store(&v)
}

// recomputeVersion fingerprints the live definition set. Tombstones are
// excluded: a node that created and dropped a keyspace agrees with one that
// never saw it.
func (s *Schema) recomputeVersion() {
	m := s.entries.Load()
	var buf bytes.Buffer
	var ts [8]byte
	m.Range(func(key string, e *entry) bool {
		if e.Deleted {
			return true
		}
		buf.WriteString(key)
		buf.WriteByte(0)
		binary.BigEndian.PutUint64(ts[:], uint64(e.Timestamp))
		buf.Write(ts[:])
		buf.Write(e.Payload)
		buf.WriteByte(0)
		return true
	})
	v := uuid.NewMD5(versionSpace, buf.Bytes())
	s.version.Store(&v)
}

func (s *Schema) lookup(t targetKind, keyspace, name string) (*entry, bool) {
	e, ok := s.entries.Load().Load(targetKey(t, keyspace, name))
	if !ok || e.Deleted {
		return nil, false
	}
	return e, true
}

// Keyspace returns the live definition of a keyspace, if any.
func (s *Schema) Keyspace(name string) (*KeyspaceDef, bool) {
	e, ok := s.lookup(targetKeyspace, name, "")
	if !ok {
		return nil, false
	}
	var def KeyspaceDef
	if err := json.Unmarshal(e.Payload, &def); err != nil {
		return nil, false
	}
	return &def, true
}

// Table returns the live definition of a table, if any.
func (s *Schema) Table(keyspace, name string) (*TableDef, bool) {
	e, ok := s.lookup(targetTable, keyspace, name)
	if !ok {
		return nil, false
	}
	var def TableDef
	if err := json.Unmarshal(e.Payload, &def); err != nil {
		return nil, false
	}
	return &def, true
}

// Type returns the live definition of a user type, if any.
func (s *Schema) Type(keyspace, name string) (*TypeDef, bool) {
	e, ok := s.lookup(targetType, keyspace, name)
	if !ok {
		return nil, false
	}
	var def TypeDef
	if err := json.Unmarshal(e.Payload, &def); err != nil {
		return nil, false
	}
	return &def, true
}

// createKind maps a stored target back onto the change kind used when the
// full state is shipped as one batch.
func (t targetKind) createKind() ChangeKind {
	switch t {
	case targetKeyspace:
		return CreateKeyspace
	case targetTable:
		return CreateTable
	default:
		return CreateType
	}
}

func (t targetKind) dropKind() ChangeKind {
	switch t {
	case targetKeyspace:
		return DropKeyspace
	case targetTable:
		return DropTable
	default:
		return DropType
	}
}

// ToBatch renders the full state, tombstones included, as one batch. Merging
// it elsewhere reproduces this state; merging it here is a no-op.
func (s *Schema) ToBatch() Batch {
	var b Batch
	s.entries.Load().Range(func(key string, e *entry) bool {
		kind := e.Target.createKind()
		if e.Deleted {
			kind = e.Target.dropKind()
		}
		b = append(b, Mutation{
			Kind:      kind,
			Keyspace:  e.Keyspace,
			Name:      e.Name,
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		})
		return true
	})
	return b
}

// KeyspaceView groups the live definitions of one keyspace for inspection.
type KeyspaceView struct {
	Keyspace KeyspaceDef `json:"keyspace"`
	Tables   []TableDef  `json:"tables,omitempty"`
	Types    []TypeDef   `json:"types,omitempty"`
}

// Definitions returns the live definition set grouped by keyspace, in name
// order. Tables and types whose keyspace definition was dropped but whose
// own drop has not arrived yet are still listed under a bare keyspace view.
func (s *Schema) Definitions() []KeyspaceView {
	views := make(map[string]*KeyspaceView)
	order := []string{}
	view := func(ks string) *KeyspaceView {
		v, ok := views[ks]
		if !ok {
			v = &KeyspaceView{Keyspace: KeyspaceDef{Name: ks}}
			views[ks] = v
			order = append(order, ks)
		}
		return v
	}
	s.entries.Load().Range(func(key string, e *entry) bool {
		if e.Deleted {
			return true
		}
		switch e.Target {
		case targetKeyspace:
			var def KeyspaceDef
			if json.Unmarshal(e.Payload, &def) == nil {
				view(e.Keyspace).Keyspace = def
			}
		case targetTable:
			var def TableDef
			if json.Unmarshal(e.Payload, &def) == nil {
				v := view(e.Keyspace)
				v.Tables = append(v.Tables, def)
			}
		case targetType:
			var def TypeDef
			if json.Unmarshal(e.Payload, &def) == nil {
				v := view(e.Keyspace)
				v.Types = append(v.Types, def)
			}
		}
		return true
	})
	out := make([]KeyspaceView, 0, len(order))
	for _, ks := range order {
		out = append(out, *views[ks])
	}
	return out
}

// snapshotEntries returns every stored entry in key order, for persistence.
func (s *Schema) snapshotEntries() []*entry {
	var out []*entry
	s.entries.Load().Range(func(key string, e *entry) bool {
		out = append(out, e)
		return true
	})
	return out
}
