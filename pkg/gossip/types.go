package gossip

import "schemadb/pkg/types"

// State is the application state a member advertises on the feed.
type State struct {
	SchemaVersion string             `json:"schema_version"`
	ProtoVersion  types.ProtoVersion `json:"proto_version"`
	Voter         bool               `json:"voter"`
}

// Member is the feed's view of one cluster node. Rebuilt entirely from the
// feed; never persisted.
type Member struct {
	Addr  types.NodeID
	State State
	Alive bool
}

type EventKind uint8

const (
	// EventStateChange fires when a member's advertised state changes.
	EventStateChange EventKind = iota + 1
	EventAlive
	EventDead
	EventRestart
	EventRemove
	EventJoin
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state_change"
	case EventAlive:
		return "alive"
	case EventDead:
		return "dead"
	case EventRestart:
		return "restart"
	case EventRemove:
		return "remove"
	case EventJoin:
		return "join"
	}
	return "unknown"
}

// Event is one membership or state observation. State is the member's
// advertised state at event time; it is zero for dead and remove events.
type Event struct {
	Kind  EventKind
	Addr  types.NodeID
	State State
}

// Feed is the membership/liveness feed a node participates in.
//
// Subscribers are called on the feed's delivery goroutine and must not block
// on work that itself waits for feed delivery.
type Feed interface {
	// Subscribe registers a handler for all subsequent events.
	Subscribe(fn func(Event))
	// Advertise publishes the local node's application state.
	Advertise(st State) error
	// Members returns a weakly-consistent snapshot of live members,
	// including the local node.
	Members() []Member
	// Lookup returns the current view of one member.
	Lookup(addr types.NodeID) (Member, bool)
	// Self is the local node's identity on the feed.
	Self() types.NodeID
}
