package typed

// PatchKind identifies the type of diff entry.
type PatchKind string

const (
	PatchPlayerPos       PatchKind = "player_pos"
	PatchPlayerFacing    PatchKind = "player_facing"
	PatchPlayerIntent    PatchKind = "player_intent"
	PatchPlayerHealth    PatchKind = "player_health"
	PatchPlayerInventory PatchKind = "player_inventory"
	PatchPlayerEquipment PatchKind = "player_equipment"
	PatchPlayerRemoved   PatchKind = "player_removed"

	PatchNPCPos       PatchKind = "npc_pos"
	PatchNPCFacing    PatchKind = "npc_facing"
	PatchNPCHealth    PatchKind = "npc_health"
	PatchNPCInventory PatchKind = "npc_inventory"
	PatchNPCEquipment PatchKind = "npc_equipment"

	PatchEffectPos    PatchKind = "effect_pos"
	PatchEffectParams PatchKind = "effect_params"

	PatchGroundItemPos PatchKind = "ground_item_pos"
	PatchGroundItemQty PatchKind = "ground_item_qty"
)

// Patch represents a diff entry that can be applied to the client state.
// Payload shapes are owned by the producing package; the journal treats
// them as opaque values.
type Patch struct {
	Kind     PatchKind `json:"kind"`
	EntityID string    `json:"entityId"`
	Payload  any       `json:"payload,omitempty"`
}
