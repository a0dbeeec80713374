package server

import effectcontract "rift-and-ruin/server/effects/contract"

type joinResponse struct {
	Ver              int                              `json:"ver"`
	ID               string                           `json:"id"`
	Players          []Player                         `json:"players"`
	NPCs             []NPC                            `json:"npcs"`
	Obstacles        []Obstacle                       `json:"obstacles"`
	Effects          []Effect                         `json:"effects,omitempty"`
	EffectTriggers   []EffectTrigger                  `json:"effectTriggers,omitempty"`
	GroundItems      []GroundItem                     `json:"groundItems,omitempty"`
	Patches          []Patch                          `json:"patches,omitempty"`
	Config           worldConfig                      `json:"config"`
	Resync           bool                             `json:"resync"`
	KeyframeInterval int                              `json:"keyframeInterval,omitempty"`
	EffectCatalog    map[string]effectCatalogMetadata `json:"effectCatalog,omitempty"`
}

type stateMessage struct {
	Ver              int                                `json:"ver"`
	Type             string                             `json:"type"`
	Players          []Player                           `json:"players,omitempty"`
	NPCs             []NPC                              `json:"npcs,omitempty"`
	Obstacles        []Obstacle                         `json:"obstacles,omitempty"`
	EffectTriggers   []EffectTrigger                    `json:"effectTriggers,omitempty"`
	EffectSpawns     []effectcontract.EffectSpawnEvent  `json:"effect_spawned,omitempty"`
	EffectUpdates    []effectcontract.EffectUpdateEvent `json:"effect_update,omitempty"`
	EffectEnds       []effectcontract.EffectEndEvent    `json:"effect_ended,omitempty"`
	EffectSeqCursors map[string]effectcontract.Seq      `json:"effect_seq_cursors,omitempty"`
	GroundItems      []GroundItem                       `json:"groundItems,omitempty"`
	Patches          []Patch                            `json:"patches"`
	Events           []Event                            `json:"events,omitempty"`
	Tick             uint64                             `json:"t"`
	Sequence         uint64                             `json:"sequence"`
	KeyframeSeq      uint64                             `json:"keyframeSeq"`
	ServerTime       int64                              `json:"serverTime"`
	Config           worldConfig                        `json:"config"`
	Resync           bool                               `json:"resync,omitempty"`
	KeyframeInterval int                                `json:"keyframeInterval,omitempty"`
}

type keyframeMessage struct {
	Ver         int          `json:"ver"`
	Type        string       `json:"type"`
	Sequence    uint64       `json:"sequence"`
	Tick        uint64       `json:"t"`
	Players     []Player     `json:"players"`
	NPCs        []NPC        `json:"npcs"`
	Obstacles   []Obstacle   `json:"obstacles"`
	GroundItems []GroundItem `json:"groundItems"`
	Config      worldConfig  `json:"config"`
}

type keyframeNackMessage struct {
	Ver      int         `json:"ver"`
	Type     string      `json:"type"`
	Sequence uint64      `json:"sequence"`
	Reason   string      `json:"reason"`
	Resync   bool        `json:"resync,omitempty"`
	Config   worldConfig `json:"config,omitempty"`
}

type clientMessage struct {
	Ver              int     `json:"ver,omitempty"`
	Type             string  `json:"type"`
	CommandSeq       *uint64 `json:"seq,omitempty"`
	DX               float64 `json:"dx"`
	DY               float64 `json:"dy"`
	Facing           string  `json:"facing"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	SentAt           int64   `json:"sentAt"`
	Action           string  `json:"action"`
	Cmd              string  `json:"cmd"`
	Qty              int     `json:"qty"`
	Ack              *uint64 `json:"ack"`
	KeyframeSeq      *uint64 `json:"keyframeSeq"`
	KeyframeInterval *int    `json:"keyframeInterval,omitempty"`

	// Item identifies the item type for BUY_ITEM/SELL_ITEM requests.
	Item string `json:"item,omitempty"`
	// TargetID identifies the entity addressed by a TARGET_UNIT request.
	TargetID string `json:"targetId,omitempty"`
	// Text carries a CHAT payload.
	Text string `json:"text,omitempty"`
}

// commandAckMessage confirms admission and, once processed, execution of a
// sequenced client input.
type commandAckMessage struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

// commandRejectMessage reports why a sequenced client input was refused
// admission. Retry is set when the client may resend the same input once the
// rejecting condition (usually a saturated per-session queue) clears.
type commandRejectMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
}

// pongMessage answers a PING input with the server's current clock so the
// client can refine its round-trip estimate independent of the heartbeat
// channel.
type pongMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// chatMessage fans a CHAT input out to every other subscriber.
type chatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	PlayerID   string `json:"playerId"`
	Text       string `json:"text"`
	ServerTime int64  `json:"serverTime"`
}

type consoleAckMessage struct {
	Ver     int    `json:"ver"`
	Type    string `json:"type"`
	Cmd     string `json:"cmd"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Qty     int    `json:"qty,omitempty"`
	StackID string `json:"stackId,omitempty"`
	Slot    string `json:"slot,omitempty"`
}

type heartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}

type diagnosticsPlayer struct {
	Ver           int    `json:"ver"`
	ID            string `json:"id"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
	LastAck       uint64 `json:"lastAck"`
}
