package server

import (
	"time"

	journalpkg "rift-and-ruin/server/internal/journal"
	simpatches "rift-and-ruin/server/internal/sim/patches/typed"
)

const defaultJournalKeyframeCapacity = 8

// defaultJournalMaxAge bounds how long a keyframe lingers in the retention
// window before the journal evicts it regardless of capacity pressure.
const defaultJournalMaxAge = 30 * time.Second

// PatchKind identifies the type of diff entry. Aliased onto the shared sim
// package so every layer of the engine (legacy world, internal/sim, the
// journal) agrees on the wire value without a translation step.
type PatchKind = simpatches.PatchKind

const (
	// PatchPlayerPos updates a player's position.
	PatchPlayerPos = simpatches.PatchPlayerPos
	// PatchPlayerFacing updates a player's facing direction.
	PatchPlayerFacing = simpatches.PatchPlayerFacing
	// PatchPlayerIntent updates a player's movement intent vector.
	PatchPlayerIntent = simpatches.PatchPlayerIntent
	// PatchPlayerHealth updates a player's health pool.
	PatchPlayerHealth = simpatches.PatchPlayerHealth
	// PatchPlayerInventory updates a player's inventory slots.
	PatchPlayerInventory = simpatches.PatchPlayerInventory
	// PatchPlayerEquipment updates a player's equipment loadout.
	PatchPlayerEquipment = simpatches.PatchPlayerEquipment
	// PatchPlayerRemoved signals that a player has been removed from the world.
	PatchPlayerRemoved = simpatches.PatchPlayerRemoved

	// PatchNPCPos updates an NPC's position.
	PatchNPCPos = simpatches.PatchNPCPos
	// PatchNPCFacing updates an NPC's facing direction.
	PatchNPCFacing = simpatches.PatchNPCFacing
	// PatchNPCHealth updates an NPC's health pool.
	PatchNPCHealth = simpatches.PatchNPCHealth
	// PatchNPCInventory updates an NPC's inventory slots.
	PatchNPCInventory = simpatches.PatchNPCInventory
	// PatchNPCEquipment updates an NPC's equipment loadout.
	PatchNPCEquipment = simpatches.PatchNPCEquipment

	// PatchEffectPos updates an effect's position.
	PatchEffectPos = simpatches.PatchEffectPos
	// PatchEffectParams updates an effect's parameter map.
	PatchEffectParams = simpatches.PatchEffectParams

	// PatchGroundItemPos updates a ground item's position.
	PatchGroundItemPos = simpatches.PatchGroundItemPos
	// PatchGroundItemQty updates a ground item's quantity.
	PatchGroundItemQty = simpatches.PatchGroundItemQty
)

// Patch represents a diff entry that can be applied to the client state.
// Aliased onto the shared sim package: the Kind field must be the exact
// PatchKind type the journal and internal/sim engine expect, but Payload
// stays an opaque any, so the legacy payload structs below can keep their
// own shapes without a second round of type aliasing.
type Patch = simpatches.Patch

// PositionPayload captures the coordinates for an entity position patch.
type PositionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerPosPayload captures the coordinates for a player position patch.
type PlayerPosPayload = PositionPayload

// NPCPosPayload captures the coordinates for an NPC position patch.
type NPCPosPayload = PositionPayload

// EffectPosPayload captures the coordinates for an effect position patch.
type EffectPosPayload = PositionPayload

// GroundItemPosPayload captures the coordinates for a ground item position patch.
type GroundItemPosPayload = PositionPayload

// FacingPayload captures the facing for an entity patch, using this package's
// own FacingDirection type.
type FacingPayload struct {
	Facing FacingDirection `json:"facing"`
}

// PlayerFacingPayload captures the facing for a player patch.
type PlayerFacingPayload = FacingPayload

// NPCFacingPayload captures the facing for an NPC patch.
type NPCFacingPayload = FacingPayload

// PlayerIntentPayload captures the movement intent vector for a player patch.
type PlayerIntentPayload struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// HealthPayload captures the health for an entity patch.
type HealthPayload struct {
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth,omitempty"`
}

// PlayerHealthPayload captures the health for a player patch.
type PlayerHealthPayload = HealthPayload

// NPCHealthPayload captures the health for an NPC patch.
type NPCHealthPayload = HealthPayload

// InventoryPayload captures the inventory slots for an entity patch.
type InventoryPayload struct {
	Slots []InventorySlot `json:"slots"`
}

// PlayerInventoryPayload captures the inventory slots for a player patch.
type PlayerInventoryPayload = InventoryPayload

// NPCInventoryPayload captures the inventory slots for an NPC patch.
type NPCInventoryPayload = InventoryPayload

// EquipmentPayload captures the equipped items for an entity patch.
type EquipmentPayload struct {
	Slots []EquippedItem `json:"slots"`
}

// PlayerEquipmentPayload captures the equipped items for a player patch.
type PlayerEquipmentPayload = EquipmentPayload

// NPCEquipmentPayload captures the equipped items for an NPC patch.
type NPCEquipmentPayload = EquipmentPayload

// EffectParamsPayload captures the mutable parameters for an effect patch.
type EffectParamsPayload struct {
	Params map[string]float64 `json:"params"`
}

// GroundItemQtyPayload captures the quantity for a ground item patch.
type GroundItemQtyPayload struct {
	Qty int `json:"qty"`
}

// Journal accumulates patches generated during a tick, batches effect
// lifecycle events, and keeps a rolling window of keyframes so diff recovery
// and resync can rehydrate state. Aliased onto internal/journal so the
// legacy world and the rest of the engine share one implementation instead
// of drifting apart.
type Journal = journalpkg.Journal

// keyframe captures a full snapshot of the world state at a given tick and
// sequence number, tagged with the broadcast payloads needed to rehydrate a
// resyncing client.
type keyframe = journalpkg.Keyframe

// keyframeRecordResult reports the retention-window bookkeeping performed by
// RecordKeyframe: the resulting window size and which older keyframes, if
// any, were evicted to make room.
type keyframeRecordResult = journalpkg.KeyframeRecordResult

// EffectEventBatch aliases the journal's drained lifecycle-event bundle.
type EffectEventBatch = journalpkg.EffectEventBatch

// newJournal constructs a journal with storage for the configured number of
// keyframes, evicting entries older than maxAge regardless of capacity
// pressure.
func newJournal(keyframeCapacity int, maxAge time.Duration) Journal {
	return journalpkg.New(keyframeCapacity, maxAge)
}
