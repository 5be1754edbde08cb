package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"schemadb/pkg/types"
)

const eventBuffer = 128

// ZKFeed implements Feed on ZooKeeper: every node holds an ephemeral znode
// under <root>/nodes whose data is its advertised State. Liveness comes from
// the ephemeral nodes, state changes from data watches.
type ZKFeed struct {
	conn *zk.Conn
	root string
	self types.NodeID
	d    *dispatcher

	mu       sync.RWMutex
	members  map[types.NodeID]Member
	watching map[types.NodeID]bool
	local    State
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKFeed(servers []string, rootPath string, local types.NodeID) (*ZKFeed, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &ZKFeed{
		conn:     conn,
		root:     rootPath,
		self:     local,
		d:        newDispatcher(eventBuffer),
		members:  make(map[types.NodeID]Member),
		watching: make(map[types.NodeID]bool),
	}, nil
}

func (f *ZKFeed) Self() types.NodeID { return f.self }

func (f *ZKFeed) Subscribe(fn func(Event)) { f.d.subscribe(fn) }

func (f *ZKFeed) Members() []Member {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Member, 0, len(f.members))
	for _, m := range f.members {
		if m.Alive {
			out = append(out, m)
		}
	}
	return out
}

func (f *ZKFeed) Lookup(addr types.NodeID) (Member, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[addr]
	return m, ok
}

func (f *ZKFeed) nodePath(addr types.NodeID) string {
	return fmt.Sprintf("%s/nodes/%s", f.root, addr)
}

func (f *ZKFeed) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := f.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = f.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

// Join registers the local ephemeral node carrying the initial state.
func (f *ZKFeed) Join(st State) error {
	if err := f.waitConnected(10 * time.Second); err != nil {
		return err
	}
	if err := f.ensurePath(f.root + "/nodes"); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = f.conn.Create(f.nodePath(f.self), data, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	f.mu.Lock()
	f.local = st
	f.members[f.self] = Member{Addr: f.self, State: st, Alive: true}
	f.mu.Unlock()

	slog.Info("joined membership feed", "addr", f.self, "path", f.nodePath(f.self))
	return nil
}

// Advertise replaces the local node's advertised state.
func (f *ZKFeed) Advertise(st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if _, err := f.conn.Set(f.nodePath(f.self), data, -1); err != nil {
		return fmt.Errorf("set local state: %w", err)
	}
	f.mu.Lock()
	f.local = st
	m := f.members[f.self]
	m.Addr, m.State, m.Alive = f.self, st, true
	f.members[f.self] = m
	f.mu.Unlock()
	return nil
}

func (f *ZKFeed) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.conn.State() == zk.StateHasSession {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("zk: no session after %s", timeout)
}

// Run watches the membership tree and pumps events until ctx is done.
func (f *ZKFeed) Run(ctx context.Context) {
	f.d.start(ctx)

	go func() {
		for {
			children, _, ch, err := f.conn.ChildrenW(f.root + "/nodes")
			if err != nil {
				slog.Warn("zk ChildrenW failed", "error", err)
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}

			f.reconcile(ctx, children)

			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// reconcile diffs the child list against the known member set.
func (f *ZKFeed) reconcile(ctx context.Context, children []string) {
	current := make(map[types.NodeID]bool, len(children))
	for _, c := range children {
		current[types.NodeID(c)] = true
	}

	f.mu.Lock()
	var joined, dead []types.NodeID
	for addr := range current {
		m, known := f.members[addr]
		if !known || !m.Alive {
			joined = append(joined, addr)
		}
	}
	for addr, m := range f.members {
		if m.Alive && !current[addr] {
			m.Alive = false
			f.members[addr] = m
			dead = append(dead, addr)
		}
	}
	f.mu.Unlock()

	for _, addr := range dead {
		f.d.publish(Event{Kind: EventDead, Addr: addr})
	}
	for _, addr := range joined {
		st, ok := f.readState(addr)
		f.mu.Lock()
		f.members[addr] = Member{Addr: addr, State: st, Alive: true}
		if !f.watching[addr] {
			f.watching[addr] = true
			go f.watchState(ctx, addr)
		}
		f.mu.Unlock()

		f.d.publish(Event{Kind: EventJoin, Addr: addr, State: st})
		if ok {
			f.d.publish(Event{Kind: EventAlive, Addr: addr, State: st})
		}
	}
}

func (f *ZKFeed) readState(addr types.NodeID) (State, bool) {
	data, _, err := f.conn.Get(f.nodePath(addr))
	if err != nil {
		return State{}, false
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("bad member state data", "addr", addr, "error", err)
		return State{}, false
	}
	return st, true
}

// watchState follows one member's data znode and publishes state changes.
// Exits when the znode disappears; reconcile restarts it on rejoin.
func (f *ZKFeed) watchState(ctx context.Context, addr types.NodeID) {
	defer func() {
		f.mu.Lock()
		delete(f.watching, addr)
		f.mu.Unlock()
	}()

	for {
		data, _, ch, err := f.conn.GetW(f.nodePath(addr))
		if err != nil {
			return
		}
		var st State
		if err := json.Unmarshal(data, &st); err == nil {
			f.mu.Lock()
			prev := f.members[addr]
			changed := prev.State != st
			prev.Addr, prev.State, prev.Alive = addr, st, true
			f.members[addr] = prev
			f.mu.Unlock()

			if changed {
				f.d.publish(Event{Kind: EventStateChange, Addr: addr, State: st})
			}
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

func (f *ZKFeed) Close() error {
	f.d.stop()
	f.conn.Close()
	return nil
}
