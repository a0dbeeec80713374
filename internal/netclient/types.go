package netclient

import "time"

// EntitySnapshot mirrors the subset of the server's Actor wire shape a client
// needs to render and predict: position, facing, and vitals. Fields use the
// same JSON tags as rift-and-ruin/server's Actor so a Snapshot can be
// unmarshaled directly from a stateMessage/keyframeMessage payload's
// "players"/"npcs" arrays.
type EntitySnapshot struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Facing    string  `json:"facing"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth"`
}

// Snapshot is one tick's worth of authoritative world state, keyed by
// whichever entity IDs the server included (full state or delta — the
// SnapshotBuffer does not care which, it just trims to the configured
// window).
type Snapshot struct {
	Tick       uint64
	ServerTime int64
	Resync     bool
	ReceivedAt time.Time
	Entities   map[string]EntitySnapshot
	Events     []Event
}

// Event is a tick-local notification relayed verbatim from the server.
type Event struct {
	Tick     uint64
	EntityID string
	Type     string
}

// clone returns a deep-enough copy that mutating the result never aliases
// the buffered original (the map itself, not just its header).
func (s Snapshot) clone() Snapshot {
	out := Snapshot{Tick: s.Tick, ServerTime: s.ServerTime, Resync: s.Resync, ReceivedAt: s.ReceivedAt}
	if len(s.Events) > 0 {
		out.Events = append([]Event(nil), s.Events...)
	}
	out.Entities = make(map[string]EntitySnapshot, len(s.Entities))
	for id, e := range s.Entities {
		out.Entities[id] = e
	}
	return out
}

// InputCommand is a single sequenced movement intent, the client-side analog
// of rift-and-ruin/server's clientMessage MOVE/STOP variants. Seq must be
// strictly increasing per session; the server drops anything else.
type InputCommand struct {
	Seq    uint64
	DX     float64
	DY     float64
	Facing string
	SentAt int64
}
