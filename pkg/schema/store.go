package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const snapshotSuffix = ".schema.json"

// Store persists schema state as one snapshot file per keyspace so that a
// node restart resumes from its last merged state. Writes happen on the
// serialized apply stage, after the in-memory merge.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir schema dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// fileName flattens a keyspace name into a snapshot file name.
func fileName(keyspace string) string {
	return strings.ReplaceAll(keyspace, string(os.PathSeparator), "_") + snapshotSuffix
}

// Save rewrites the snapshot files from the current state. Keyspaces whose
// last entries are all tombstones still get a file; the tombstones must
// survive a restart to keep propagating the drop.
func (st *Store) Save(s *Schema) error {
	byKeyspace := make(map[string][]*entry)
	for _, e := range s.snapshotEntries() {
		byKeyspace[e.Keyspace] = append(byKeyspace[e.Keyspace], e)
	}
	for ks, entries := range byKeyspace {
		data, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("marshal keyspace %q: %w", ks, err)
		}
		path := filepath.Join(st.dir, fileName(ks))
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write snapshot %q: %w", path, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("rename snapshot %q: %w", path, err)
		}
	}
	return nil
}

// Load reads every snapshot file back as one batch, ready to merge into a
// fresh Schema. A missing directory or no files yields an empty batch.
func (st *Store) Load() (Batch, error) {
	names, err := st.snapshotFiles()
	if err != nil {
		return nil, err
	}
	var b Batch
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read snapshot %q: %w", name, err)
		}
		var entries []*entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode snapshot %q: %w", name, err)
		}
		for _, e := range entries {
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
		}
	}
	return b, nil
}

// Truncate removes every snapshot file. Best effort: it stops at the first
// failure, and files already removed stay removed.
func (st *Store) Truncate() error {
	names, err := st.snapshotFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(st.dir, name)); err != nil {
			return fmt.Errorf("truncate snapshot %q: %w", name, err)
		}
	}
	return nil
}

func (st *Store) snapshotFiles() ([]string, error) {
	dirents, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	var names []string
	for _, d := range dirents {
		if !d.IsDir() && strings.HasSuffix(d.Name(), snapshotSuffix) {
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
