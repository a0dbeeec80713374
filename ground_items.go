package server

import (
	"context"
	"fmt"
	"math"
	"sort"

	loggingeconomy "rift-and-ruin/server/logging/economy"
)

// GroundItem represents a dropped item stack that exists in the world.
type GroundItem struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type,omitempty"`
	X    float64  `json:"x"`
	Y    float64  `json:"y"`
	Qty  int      `json:"qty"`
}

type groundTileKey struct {
	X int
	Y int
}

type groundItemState struct {
	GroundItem
	tile groundTileKey
}

const groundPickupRadius = tileSize

func (w *World) groundItemsSnapshot() []GroundItem {
	if w == nil || len(w.groundItems) == 0 {
		return nil
	}
	items := make([]GroundItem, 0, len(w.groundItems))
	for _, item := range w.groundItems {
		if item == nil {
			continue
		}
		items = append(items, item.GroundItem)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	return items
}

// GroundItemsSnapshot returns a copy of the ground items for broadcasting.
func (w *World) GroundItemsSnapshot() []GroundItem {
	return w.groundItemsSnapshot()
}

func tileForPosition(x, y float64) groundTileKey {
	return groundTileKey{X: int(math.Floor(x / tileSize)), Y: int(math.Floor(y / tileSize))}
}

func tileCenter(key groundTileKey) (float64, float64) {
	return float64(key.X)*tileSize + tileSize/2, float64(key.Y)*tileSize + tileSize/2
}

func (w *World) upsertGroundItem(actor *actorState, stack ItemStack, reason string) *groundItemState {
	if w == nil || actor == nil || stack.Quantity <= 0 {
		return nil
	}
	itemType := stack.Type
	if itemType == "" {
		itemType = ItemTypeGold
	}
	tile := tileForPosition(actor.X, actor.Y)
	centerX, centerY := tileCenter(tile)
	if existing, ok := w.groundItemsByTile[tile]; ok && existing != nil && existing.Type == itemType {
		existing.Qty += stack.Quantity
		existing.X = centerX
		existing.Y = centerY
		w.logGroundDrop(actor.ID, stack.Quantity, reason, existing.ID)
		return existing
	}
	w.nextGroundItemID++
	id := fmt.Sprintf("ground-%d", w.nextGroundItemID)
	item := &groundItemState{
		GroundItem: GroundItem{ID: id, Type: itemType, X: centerX, Y: centerY, Qty: stack.Quantity},
		tile:       tile,
	}
	if w.groundItems == nil {
		w.groundItems = make(map[string]*groundItemState)
	}
	w.groundItems[id] = item
	if w.groundItemsByTile == nil {
		w.groundItemsByTile = make(map[groundTileKey]*groundItemState)
	}
	w.groundItemsByTile[tile] = item
	w.logGroundDrop(actor.ID, stack.Quantity, reason, id)
	return item
}

func (w *World) logGroundDrop(actorID string, qty int, reason, stackID string) {
	if w == nil || w.publisher == nil {
		return
	}
	loggingeconomy.GoldDropped(
		context.Background(),
		w.publisher,
		w.currentTick,
		w.entityRef(actorID),
		loggingeconomy.GoldDroppedPayload{Quantity: qty, Reason: reason},
		map[string]any{"stackId": stackID},
	)
}

func (w *World) upsertGroundGold(actor *actorState, qty int, reason string) *groundItemState {
	return w.upsertGroundItem(actor, ItemStack{Type: ItemTypeGold, Quantity: qty}, reason)
}

// spawnGroundGold drops a gold stack at an arbitrary position, merging with an
// existing stack on the same tile.
func (w *World) spawnGroundGold(x, y float64, qty int) *groundItemState {
	if w == nil || qty <= 0 {
		return nil
	}
	tile := tileForPosition(x, y)
	centerX, centerY := tileCenter(tile)
	if existing, ok := w.groundItemsByTile[tile]; ok && existing != nil && existing.Type == ItemTypeGold {
		existing.Qty += qty
		existing.X = centerX
		existing.Y = centerY
		return existing
	}
	w.nextGroundItemID++
	id := fmt.Sprintf("ground-%d", w.nextGroundItemID)
	item := &groundItemState{
		GroundItem: GroundItem{ID: id, Type: ItemTypeGold, X: centerX, Y: centerY, Qty: qty},
		tile:       tile,
	}
	if w.groundItems == nil {
		w.groundItems = make(map[string]*groundItemState)
	}
	w.groundItems[id] = item
	if w.groundItemsByTile == nil {
		w.groundItemsByTile = make(map[groundTileKey]*groundItemState)
	}
	w.groundItemsByTile[tile] = item
	return item
}

func (w *World) removeGroundItem(item *groundItemState) {
	if w == nil || item == nil {
		return
	}
	delete(w.groundItems, item.ID)
	delete(w.groundItemsByTile, item.tile)
}

func (w *World) nearestGroundGold(actor *actorState) (*groundItemState, float64) {
	if w == nil || actor == nil || len(w.groundItems) == 0 {
		return nil, 0
	}
	var best *groundItemState
	bestDist := math.MaxFloat64
	for _, item := range w.groundItems {
		if item == nil || item.Qty <= 0 {
			continue
		}
		dx := item.X - actor.X
		dy := item.Y - actor.Y
		dist := math.Hypot(dx, dy)
		if dist < bestDist {
			bestDist = dist
			best = item
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}

func (w *World) nearestGroundItem(actor *actorState, itemType ItemType) (*groundItemState, float64) {
	if w == nil || actor == nil || len(w.groundItems) == 0 {
		return nil, 0
	}
	var best *groundItemState
	bestDist := math.MaxFloat64
	for _, item := range w.groundItems {
		if item == nil || item.Qty <= 0 {
			continue
		}
		if itemType != "" && item.Type != itemType {
			continue
		}
		dist := math.Hypot(item.X-actor.X, item.Y-actor.Y)
		if dist < bestDist {
			bestDist = dist
			best = item
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}

// closestGroundItem returns the nearest live ground stack to a position.
func (w *World) closestGroundItem(x, y float64) (*groundItemState, float64) {
	if w == nil || len(w.groundItems) == 0 {
		return nil, 0
	}
	var best *groundItemState
	bestDist := math.MaxFloat64
	for _, item := range w.groundItems {
		if item == nil || item.Qty <= 0 {
			continue
		}
		dist := math.Hypot(item.X-x, item.Y-y)
		if dist < bestDist {
			bestDist = dist
			best = item
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}

func (w *World) dropAllGold(actor *actorState, reason string) int {
	if w == nil || actor == nil {
		return 0
	}
	total := 0
	collect := func(inv *Inventory) error {
		for _, stack := range inv.RemoveAllOf(ItemTypeGold) {
			total += stack.Quantity
		}
		return nil
	}
	if _, ok := w.players[actor.ID]; ok {
		_ = w.MutateInventory(actor.ID, collect)
	} else if _, ok := w.npcs[actor.ID]; ok {
		_ = w.MutateNPCInventory(actor.ID, collect)
	} else {
		_ = collect(&actor.Inventory)
	}
	if total <= 0 {
		return 0
	}
	w.upsertGroundGold(actor, total, reason)
	return total
}

// dropAllInventory drains every stack the actor carries onto the ground tile
// beneath it. Used on death so loot survives the entity's removal.
func (w *World) dropAllInventory(actor *actorState, reason string) {
	if w == nil || actor == nil {
		return
	}
	var drained []ItemStack
	collect := func(inv *Inventory) error {
		drained = inv.DrainAll()
		return nil
	}
	if _, ok := w.players[actor.ID]; ok {
		_ = w.MutateInventory(actor.ID, collect)
	} else if _, ok := w.npcs[actor.ID]; ok {
		_ = w.MutateNPCInventory(actor.ID, collect)
	} else {
		_ = collect(&actor.Inventory)
	}
	for _, stack := range drained {
		if stack.Quantity <= 0 {
			continue
		}
		w.upsertGroundItem(actor, stack, reason)
	}
}
