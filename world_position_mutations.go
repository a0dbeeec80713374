package server

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	worldpkg "rift-and-ruin/server/internal/world"
)

// applyPlayerPositionMutations journals the player positions that actually
// moved this tick. Movement and collision resolution mutate actor state in
// place; this pass diffs against the tick-start snapshot so the journal sees
// exactly one position patch per moved entity.
func (w *World) applyPlayerPositionMutations(initial map[string]worldpkg.Vec2) {
	if w == nil || len(initial) == 0 {
		return
	}
	actors := make([]worldpkg.PositionCommit, 0, len(w.players))
	proposed := make(map[string]worldpkg.Vec2, len(w.players))
	ids := maps.Keys(w.players)
	slices.Sort(ids)
	for _, id := range ids {
		start, ok := initial[id]
		if !ok {
			continue
		}
		player := w.players[id]
		actors = append(actors, worldpkg.PositionCommit{ID: id, Current: start})
		proposed[id] = worldpkg.Vec2{X: player.X, Y: player.Y}
	}
	worldpkg.ApplyPlayerPositionMutations(actors, initial, proposed, func(id string, x, y float64) {
		player, ok := w.players[id]
		if !ok || player == nil {
			return
		}
		player.version++
		w.appendPatch(PatchPlayerPos, id, PlayerPosPayload{X: x, Y: y})
	})
}

// applyNPCPositionMutations mirrors applyPlayerPositionMutations for NPCs.
func (w *World) applyNPCPositionMutations(initial map[string]worldpkg.Vec2) {
	if w == nil || len(initial) == 0 {
		return
	}
	actors := make([]worldpkg.PositionCommit, 0, len(w.npcs))
	proposed := make(map[string]worldpkg.Vec2, len(w.npcs))
	ids := maps.Keys(w.npcs)
	slices.Sort(ids)
	for _, id := range ids {
		start, ok := initial[id]
		if !ok {
			continue
		}
		npc := w.npcs[id]
		actors = append(actors, worldpkg.PositionCommit{ID: id, Current: start})
		proposed[id] = worldpkg.Vec2{X: npc.X, Y: npc.Y}
	}
	worldpkg.ApplyNPCPositionMutations(actors, initial, proposed, func(id string, x, y float64) {
		npc, ok := w.npcs[id]
		if !ok || npc == nil {
			return
		}
		npc.version++
		w.appendPatch(PatchNPCPos, id, NPCPosPayload{X: x, Y: y})
	})
}
