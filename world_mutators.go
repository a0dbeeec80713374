package server

import "rift-and-ruin/server/stats"

// syncMaxHealth recomputes an actor's max health from its resolved stats
// component, clamps current health to the new ceiling, and records a journal
// patch when either value moved. Equipment and progression mutations call
// this after Apply+Resolve so clients see the derived health immediately
// rather than on the next unrelated health change.
func (w *World) syncMaxHealth(actor *actorState, version *uint64, entityID string, patchKind PatchKind, comp *stats.Component) {
	if w == nil || actor == nil || version == nil || comp == nil {
		return
	}

	maxHealth := comp.GetDerived(stats.DerivedMaxHealth)
	if maxHealth <= 0 {
		return
	}

	health := actor.Health
	if health > maxHealth {
		health = maxHealth
	}

	if maxHealth == actor.MaxHealth && health == actor.Health {
		return
	}

	actor.MaxHealth = maxHealth
	actor.Health = health
	*version++
	w.dirty.mark(entityID, w.currentTick)

	w.journal.AppendPatch(Patch{
		Kind:     patchKind,
		EntityID: entityID,
		Payload: HealthPayload{
			Health:    actor.Health,
			MaxHealth: actor.MaxHealth,
		},
	})
}

// SetPosition updates a player's coordinates while recording a journal patch.
func (w *World) SetPosition(playerID string, x, y float64) {
	if w == nil {
		return
	}
	player, ok := w.players[playerID]
	if !ok || player == nil {
		return
	}
	if player.X == x && player.Y == y {
		return
	}

	player.X = x
	player.Y = y
	player.version++
	w.dirty.mark(playerID, w.currentTick)
	w.journal.AppendPatch(Patch{
		Kind:     PatchPlayerPos,
		EntityID: playerID,
		Payload: PlayerPosPayload{
			X: x,
			Y: y,
		},
	})
}

// SetNPCPosition updates an NPC's coordinates while recording a journal
// patch, mirroring SetPosition for AI-controlled entities.
func (w *World) SetNPCPosition(npcID string, x, y float64) {
	if w == nil {
		return
	}
	npc, ok := w.npcs[npcID]
	if !ok || npc == nil {
		return
	}
	if npc.X == x && npc.Y == y {
		return
	}

	npc.X = x
	npc.Y = y
	w.dirty.mark(npcID, w.currentTick)
	w.journal.AppendPatch(Patch{
		Kind:     PatchNPCPos,
		EntityID: npcID,
		Payload: NPCPosPayload{
			X: x,
			Y: y,
		},
	})
}
