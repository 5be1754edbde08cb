package migrate

import (
	"sync"

	"schemadb/pkg/schema"
)

// Listener observes committed definition changes. Callbacks fire on the
// apply stage, in registration order, strictly after the change is merged
// and persisted; they never fire for a failed application.
type Listener interface {
	OnSchemaChange(change schema.Change)
}

// listenerSet may be mutated concurrently with in-flight notification;
// delivery works off a snapshot taken at fire time.
type listenerSet struct {
	mu      sync.RWMutex
	entries []Listener
}

func (ls *listenerSet) add(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.entries = append(ls.entries, l)
}

func (ls *listenerSet) remove(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, e := range ls.entries {
		if e == l {
			ls.entries = append(ls.entries[:i], ls.entries[i+1:]...)
			return
		}
	}
}

func (ls *listenerSet) snapshot() []Listener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]Listener, len(ls.entries))
	copy(out, ls.entries)
	return out
}
