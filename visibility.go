package server

// Visibility decides which entities a viewer may observe. The fog-of-war
// collaborator installs an implementation at startup; when none is installed
// every entity is visible to everyone.
//
// Regardless of what an implementation reports, a viewer always receives
// updates for its own entity: a fog bug must never be able to hide a player
// from themselves.
type Visibility interface {
	VisibleTo(viewerID, entityID string) bool
}

// SetVisibility installs the visibility collaborator consulted during
// broadcast. Passing nil restores the permissive default.
func (h *Hub) SetVisibility(v Visibility) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.visibility = v
	h.mu.Unlock()
}

func (h *Hub) entityVisible(viewerID, entityID string, sub *subscriber) bool {
	if entityID == "" {
		return false
	}
	if entityID == viewerID {
		return true
	}
	visible := h.visibility == nil || h.visibility.VisibleTo(viewerID, entityID)
	if sub == nil {
		return visible
	}
	if visible {
		sub.markVisible(entityID)
		return true
	}
	// An entity that just left the viewer's sight gets one final last-known
	// snapshot; after that the viewer simply stops hearing about it.
	return sub.clearVisible(entityID)
}

// filterStateForViewer narrows a built state message to the entities the
// viewer may observe. The viewer's own entity always survives the filter.
func (h *Hub) filterStateForViewer(msg stateMessage, viewerID string, sub *subscriber) stateMessage {
	view := msg

	if len(msg.Players) > 0 {
		players := make([]Player, 0, len(msg.Players))
		for _, player := range msg.Players {
			if h.entityVisible(viewerID, player.ID, sub) {
				players = append(players, player)
			}
		}
		view.Players = players
	}
	if len(msg.NPCs) > 0 {
		npcs := make([]NPC, 0, len(msg.NPCs))
		for _, npc := range msg.NPCs {
			if h.entityVisible(viewerID, npc.ID, sub) {
				npcs = append(npcs, npc)
			}
		}
		view.NPCs = npcs
	}
	if len(msg.GroundItems) > 0 {
		items := make([]GroundItem, 0, len(msg.GroundItems))
		for _, item := range msg.GroundItems {
			if h.entityVisible(viewerID, item.ID, sub) {
				items = append(items, item)
			}
		}
		view.GroundItems = items
	}
	if len(msg.Patches) > 0 {
		patches := make([]Patch, 0, len(msg.Patches))
		for _, patch := range msg.Patches {
			if patch.Kind == PatchPlayerRemoved || h.entityVisible(viewerID, patch.EntityID, sub) {
				patches = append(patches, patch)
			}
		}
		view.Patches = patches
	}

	return view
}
