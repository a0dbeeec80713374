package netclient

// Wire-format mirrors of rift-and-ruin/server's messages.go types. They are
// intentionally separate Go types, not shared ones — a client is its own
// process talking JSON over a websocket to the server, not an in-process
// caller — but the field names and JSON tags must stay byte-for-byte
// compatible with the server's clientMessage/stateMessage/joinResponse.

type wireEnvelope struct {
	Type string `json:"type"`
}

type wireActor struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Facing    string  `json:"facing"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth"`
}

type wireJoin struct {
	Ver     int         `json:"ver"`
	ID      string      `json:"id"`
	Players []wireActor `json:"players"`
	NPCs    []wireActor `json:"npcs"`
	Resync  bool        `json:"resync"`
}

type wireState struct {
	Type       string      `json:"type"`
	Players    []wireActor `json:"players,omitempty"`
	NPCs       []wireActor `json:"npcs,omitempty"`
	Events     []wireEvent `json:"events,omitempty"`
	Tick       uint64      `json:"t"`
	Sequence   uint64      `json:"sequence"`
	ServerTime int64       `json:"serverTime"`
	Resync     bool        `json:"resync,omitempty"`
}

// wireEvent mirrors the server's tick-local Event record.
type wireEvent struct {
	Tick     uint64 `json:"t"`
	EntityID string `json:"entityId,omitempty"`
	Type     string `json:"type"`
}

type wireKeyframe struct {
	Type     string      `json:"type"`
	Sequence uint64      `json:"sequence"`
	Tick     uint64      `json:"t"`
	Players  []wireActor `json:"players"`
	NPCs     []wireActor `json:"npcs"`
}

type wireCommandAck struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

type wireCommandReject struct {
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
}

type wireHeartbeat struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

type wirePong struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// outboundCommand mirrors the subset of clientMessage a MOVE/STOP input
// needs. Other input kinds (ABILITY, BUY_ITEM, ...) are out of scope for
// this package — it drives movement prediction, not the full action set.
type outboundCommand struct {
	Type   string  `json:"type"`
	Seq    uint64  `json:"seq"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Facing string  `json:"facing"`
	SentAt int64   `json:"sentAt"`
	Ack    *uint64 `json:"ack,omitempty"`
}

func snapshotFromWire(tick uint64, serverTime int64, resync bool, groups ...[]wireActor) Snapshot {
	snap := Snapshot{Tick: tick, ServerTime: serverTime, Resync: resync}
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	snap.Entities = make(map[string]EntitySnapshot, total)
	for _, g := range groups {
		for _, a := range g {
			snap.Entities[a.ID] = EntitySnapshot{
				ID:        a.ID,
				X:         a.X,
				Y:         a.Y,
				Facing:    a.Facing,
				Health:    a.Health,
				MaxHealth: a.MaxHealth,
			}
		}
	}
	return snap
}
