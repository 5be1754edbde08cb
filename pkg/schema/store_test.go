package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	s := New()
	s.Merge(ksBatch("ks1", 100))
	s.Merge(tblBatch("ks1", "t1", 150))
	s.Merge(ksBatch("ks2", 120))
	s.Merge(DropBatch(DropKeyspace, "ks2", "", 180))
	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	restored := New()
	restored.Merge(b)

	if restored.Version() != s.Version() {
		t.Fatalf("restored version %s, want %s", restored.Version(), s.Version())
	}
	if _, ok := restored.Keyspace("ks2"); ok {
		t.Fatalf("dropped keyspace resurrected by restore")
	}
}

func TestStore_LoadEmptyDir(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("empty dir produced %d records", len(b))
	}
}

func TestStore_Truncate(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	s := New()
	s.Merge(ksBatch("ks1", 100))
	s.Merge(ksBatch("ks2", 100))
	if err := st.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := st.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, d := range dirents {
		if strings.HasSuffix(d.Name(), snapshotSuffix) {
			t.Fatalf("snapshot %q survived truncate", d.Name())
		}
	}

	b, err := st.Load()
	if err != nil {
		t.Fatalf("Load after truncate: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("truncated store still yields %d records", len(b))
	}
}

func TestStore_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}

	if _, err := st.Load(); err != nil {
		t.Fatalf("Load tripped on foreign file: %v", err)
	}
	if err := st.Truncate(); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("truncate removed foreign file: %v", err)
	}
}
