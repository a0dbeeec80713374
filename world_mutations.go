package server

import "errors"

// errUnknownActor reports a mutation aimed at an entity that is not live.
var errUnknownActor = errors.New("unknown actor")
// appendPatch records a journal patch and marks the entity dirty for the
// current tick. Mutators route every observable change through here so the
// delta encoder sees one consistent stream.
func (w *World) appendPatch(kind PatchKind, entityID string, payload any) {
	if w == nil || entityID == "" {
		return
	}
	w.dirty.mark(entityID, w.currentTick)
	w.journal.AppendPatch(Patch{Kind: kind, EntityID: entityID, Payload: payload})
}

// drainPatchesLocked moves the tick's accumulated patches out of the journal.
// Callers must hold the hub lock.
func (w *World) drainPatchesLocked() []Patch {
	if w == nil {
		return nil
	}
	return w.journal.DrainPatches()
}

// snapshotPatchesLocked copies the pending patches without draining them.
func (w *World) snapshotPatchesLocked() []Patch {
	if w == nil {
		return nil
	}
	return w.journal.SnapshotPatches()
}

// purgeEntityPatches removes all pending patches for an entity that left the
// live set, so stale diffs never reach clients after removal.
func (w *World) purgeEntityPatches(entityID string) {
	if w == nil || entityID == "" {
		return
	}
	w.journal.PurgeEntity(entityID)
	w.dirty.forget(entityID)
}

// SetIntent updates a player's movement intent while recording a journal patch.
func (w *World) SetIntent(playerID string, dx, dy float64) {
	if w == nil {
		return
	}
	player, ok := w.players[playerID]
	if !ok || player == nil {
		return
	}
	if player.intentX == dx && player.intentY == dy {
		return
	}
	player.intentX = dx
	player.intentY = dy
	player.version++
	w.appendPatch(PatchPlayerIntent, playerID, PlayerIntentPayload{DX: dx, DY: dy})
}

// SetNPCIntent mirrors SetIntent for AI-controlled entities.
func (w *World) SetNPCIntent(npcID string, dx, dy float64) {
	if w == nil {
		return
	}
	npc, ok := w.npcs[npcID]
	if !ok || npc == nil {
		return
	}
	npc.intentX = dx
	npc.intentY = dy
}

// SetFacing updates a player's facing while recording a journal patch.
func (w *World) SetFacing(playerID string, facing FacingDirection) {
	if w == nil || facing == "" {
		return
	}
	player, ok := w.players[playerID]
	if !ok || player == nil || player.Facing == facing {
		return
	}
	player.Facing = facing
	player.version++
	w.appendPatch(PatchPlayerFacing, playerID, PlayerFacingPayload{Facing: facing})
}

// SetNPCFacing mirrors SetFacing for AI-controlled entities.
func (w *World) SetNPCFacing(npcID string, facing FacingDirection) {
	if w == nil || facing == "" {
		return
	}
	npc, ok := w.npcs[npcID]
	if !ok || npc == nil || npc.Facing == facing {
		return
	}
	npc.Facing = facing
	npc.version++
	w.appendPatch(PatchNPCFacing, npcID, NPCFacingPayload{Facing: facing})
}

// SetHealth clamps and updates a player's health while recording a journal patch.
func (w *World) SetHealth(playerID string, health float64) {
	if w == nil {
		return
	}
	player, ok := w.players[playerID]
	if !ok || player == nil {
		return
	}
	if health < 0 {
		health = 0
	}
	if player.MaxHealth > 0 && health > player.MaxHealth {
		health = player.MaxHealth
	}
	if player.Health == health {
		return
	}
	player.Health = health
	player.version++
	w.appendPatch(PatchPlayerHealth, playerID, PlayerHealthPayload{Health: health, MaxHealth: player.MaxHealth})
}

// SetNPCHealth mirrors SetHealth for AI-controlled entities.
func (w *World) SetNPCHealth(npcID string, health float64) {
	if w == nil {
		return
	}
	npc, ok := w.npcs[npcID]
	if !ok || npc == nil {
		return
	}
	if health < 0 {
		health = 0
	}
	if npc.MaxHealth > 0 && health > npc.MaxHealth {
		health = npc.MaxHealth
	}
	if npc.Health == health {
		return
	}
	npc.Health = health
	npc.version++
	w.appendPatch(PatchNPCHealth, npcID, NPCHealthPayload{Health: health, MaxHealth: npc.MaxHealth})
}

// SetEffectPosition moves an effect while recording a journal patch.
func (w *World) SetEffectPosition(eff *effectState, x, y float64) {
	if w == nil || eff == nil {
		return
	}
	if eff.X == x && eff.Y == y {
		return
	}
	eff.X = x
	eff.Y = y
	eff.version++
	if w.effectsIndex != nil {
		w.effectsIndex.Upsert(eff)
	}
	w.appendPatch(PatchEffectPos, eff.ID, EffectPosPayload{X: x, Y: y})
}

// SetEffectParam updates a single effect parameter while recording a journal
// patch carrying the full parameter map.
func (w *World) SetEffectParam(eff *effectState, name string, value float64) {
	if w == nil || eff == nil || name == "" {
		return
	}
	if eff.Params == nil {
		eff.Params = make(map[string]float64)
	}
	if existing, ok := eff.Params[name]; ok && existing == value {
		return
	}
	eff.Params[name] = value
	eff.version++
	params := make(map[string]float64, len(eff.Params))
	for k, v := range eff.Params {
		params[k] = v
	}
	w.appendPatch(PatchEffectParams, eff.ID, EffectParamsPayload{Params: params})
}

// mutateActorInventory clones the inventory, applies the mutation, and emits a
// patch only when the slots actually changed. The clone keeps a failed
// mutation from leaving a half-applied inventory behind.
func (w *World) mutateActorInventory(actor *actorState, version *uint64, entityID string, kind PatchKind, mutate func(inv *Inventory) error) error {
	if w == nil || actor == nil || version == nil || mutate == nil {
		return nil
	}
	working := actor.Inventory.Clone()
	if err := mutate(&working); err != nil {
		return err
	}
	if inventoriesEqual(actor.Inventory, working) {
		return nil
	}
	actor.Inventory = working
	*version++
	w.appendPatch(kind, entityID, InventoryPayload{Slots: append([]InventorySlot(nil), working.Slots...)})
	return nil
}

// mutateActorEquipment mirrors mutateActorInventory for equipped items.
func (w *World) mutateActorEquipment(actor *actorState, version *uint64, entityID string, kind PatchKind, mutate func(eq *Equipment) error) error {
	if w == nil || actor == nil || version == nil || mutate == nil {
		return nil
	}
	working := actor.Equipment.Clone()
	if err := mutate(&working); err != nil {
		return err
	}
	if equipmentsEqual(actor.Equipment, working) {
		return nil
	}
	actor.Equipment = working
	*version++
	w.appendPatch(kind, entityID, EquipmentPayload{Slots: cloneEquipmentSlots(working.Slots)})
	return nil
}

func inventoriesEqual(a, b Inventory) bool {
	if len(a.Slots) != len(b.Slots) {
		return false
	}
	for i := range a.Slots {
		as := a.Slots[i]
		bs := b.Slots[i]
		if as.Slot != bs.Slot || as.Item != bs.Item {
			return false
		}
	}
	return true
}

// MutateInventory applies a mutation to a player's inventory.
func (w *World) MutateInventory(playerID string, mutate func(inv *Inventory) error) error {
	if w == nil {
		return errUnknownActor
	}
	player, ok := w.players[playerID]
	if !ok || player == nil {
		return errUnknownActor
	}
	return w.mutateActorInventory(&player.actorState, &player.version, playerID, PatchPlayerInventory, mutate)
}

// MutateNPCInventory applies a mutation to an NPC's inventory.
func (w *World) MutateNPCInventory(npcID string, mutate func(inv *Inventory) error) error {
	if w == nil {
		return errUnknownActor
	}
	npc, ok := w.npcs[npcID]
	if !ok || npc == nil {
		return errUnknownActor
	}
	return w.mutateActorInventory(&npc.actorState, &npc.version, npcID, PatchNPCInventory, mutate)
}

// MutateEquipment applies a mutation to a player's equipment.
func (w *World) MutateEquipment(entityID string, mutate func(eq *Equipment) error) error {
	if w == nil {
		return errUnknownActor
	}
	if player, ok := w.players[entityID]; ok && player != nil {
		return w.mutateActorEquipment(&player.actorState, &player.version, entityID, PatchPlayerEquipment, mutate)
	}
	if npc, ok := w.npcs[entityID]; ok && npc != nil {
		return w.mutateActorEquipment(&npc.actorState, &npc.version, entityID, PatchNPCEquipment, mutate)
	}
	return errUnknownActor
}

// registerEffect adds an effect to the live set, refusing the spawn when the
// spatial index reports the area is saturated.
func (w *World) registerEffect(eff *effectState) bool {
	if w == nil || eff == nil || eff.ID == "" {
		return false
	}
	if w.effectsIndex != nil && !w.effectsIndex.Upsert(eff) {
		return false
	}
	w.effects = append(w.effects, eff)
	if w.effectsByID != nil {
		w.effectsByID[eff.ID] = eff
	}
	return true
}
