package server

import (
	"context"
	"fmt"
	"math"
	"time"

	loggingeconomy "rift-and-ruin/server/logging/economy"
	"rift-and-ruin/server/stats"
)

const (
	// recallChannelDuration is how long a RECALL must go uninterrupted
	// before the actor teleports back to their spawn point. Any nonzero
	// MOVE input cancels it (see the CommandMove case in Step).
	recallChannelDuration = 3 * time.Second

	// wardCooldown limits how often a single actor may place a ward.
	wardCooldown     = 20 * time.Second
	wardDuration     = 90 * time.Second
	wardVisionRadius = 5 * tileSize

	effectTypeWard = "ward"

	maxPlayerLevel = 18

	// shopRestockRadius bounds how far a BUY_ITEM actor may be from their
	// spawn before the purchase is refused, mirroring the reach check
	// pickup_gold already applies to ground items. SELL_ITEM has no
	// distance check.
	shopRestockRadius = tileSize * 3
)

// shopCatalog describes the gold cost of a purchasable item. Selling refunds
// half the buy price, rounded down, with a floor of one gold.
var shopCatalog = map[ItemType]int{
	ItemTypeHealthPotion:  15,
	ItemTypeIronDagger:    40,
	ItemTypeLeatherJerkin: 60,
	ItemTypeTravelerCharm: 35,
	ItemTypeVenomCoating:  25,
	ItemTypeBlastingOrb:   50,
}

func sellPriceFor(buyPrice int) int {
	price := buyPrice / 2
	if price < 1 {
		price = 1
	}
	return price
}

// handleTargetUnitCommand records the actor's current focus target. It does
// not validate that the target exists: abilities consult the target lazily
// and simply no-op against a stale or vanished ID.
func (w *World) handleTargetUnitCommand(actorID string, cmd *TargetUnitCommand) {
	player, ok := w.players[actorID]
	if !ok {
		return
	}
	player.targetID = cmd.TargetID
}

// handleLevelUpCommand spends one of the actor's available level-ups,
// granting a small permanent stat bump sourced from progression so it layers
// independently of equipment and temporary effects.
func (w *World) handleLevelUpCommand(actorID string) {
	player, ok := w.players[actorID]
	if !ok {
		return
	}
	if player.level >= maxPlayerLevel {
		return
	}
	player.level++

	delta := stats.NewStatDelta()
	delta.Add[stats.StatMight] = 1
	delta.Add[stats.StatSpeed] = 0.25

	source := stats.SourceKey{Kind: stats.SourceKindProgression, ID: levelSourceID(player.level)}
	player.stats.Apply(stats.CommandStatChange{Layer: stats.LayerPermanent, Source: source, Delta: delta})
	player.stats.Resolve(w.currentTick)
	w.syncMaxHealth(&player.actorState, &player.version, player.ID, PatchPlayerHealth, &player.stats)
	w.emitEvent(EventLevelUp, player.ID, map[string]any{"level": player.level})
}

func levelSourceID(level int) string {
	digits := [2]byte{'0', '0'}
	digits[0] = byte('0' + (level/10)%10)
	digits[1] = byte('0' + level%10)
	return "level-" + string(digits[:])
}

// handleBuyItemCommand deducts gold and grants the purchased stack. It
// refuses trades the actor cannot afford or that reference an item absent
// from the shop catalog.
func (w *World) handleBuyItemCommand(actorID string, cmd *TradeCommand) {
	if cmd.Quantity <= 0 {
		return
	}
	player, ok := w.players[actorID]
	if !ok {
		return
	}
	price, known := shopCatalog[cmd.ItemType]
	if !known {
		return
	}
	if math.Hypot(player.X-defaultSpawnX, player.Y-defaultSpawnY) > shopRestockRadius {
		return
	}
	cost := price * cmd.Quantity

	if _, err := player.Inventory.RemoveItemTypeQuantity(ItemTypeGold, cost); err != nil {
		loggingeconomy.ItemGrantFailed(
			context.Background(),
			w.publisher,
			w.currentTick,
			w.entityRef(actorID),
			loggingeconomy.ItemGrantFailedPayload{ItemType: string(cmd.ItemType), Quantity: cmd.Quantity, Reason: "insufficient_gold"},
			nil,
		)
		return
	}

	if _, err := player.Inventory.AddStack(ItemStack{Type: cmd.ItemType, Quantity: cmd.Quantity}); err != nil {
		_, _ = player.Inventory.AddStack(ItemStack{Type: ItemTypeGold, Quantity: cost})
		loggingeconomy.ItemGrantFailed(
			context.Background(),
			w.publisher,
			w.currentTick,
			w.entityRef(actorID),
			loggingeconomy.ItemGrantFailedPayload{ItemType: string(cmd.ItemType), Quantity: cmd.Quantity, Reason: "inventory_full"},
			map[string]any{"error": err.Error()},
		)
		return
	}

	player.version++
}

// handleSellItemCommand removes a stack from the actor's inventory and
// credits gold at half the catalog price.
func (w *World) handleSellItemCommand(actorID string, cmd *TradeCommand) {
	if cmd.Quantity <= 0 {
		return
	}
	player, ok := w.players[actorID]
	if !ok {
		return
	}
	price, known := shopCatalog[cmd.ItemType]
	if !known {
		return
	}

	if _, err := player.Inventory.RemoveItemTypeQuantity(cmd.ItemType, cmd.Quantity); err != nil {
		return
	}

	refund := sellPriceFor(price) * cmd.Quantity
	if _, err := player.Inventory.AddStack(ItemStack{Type: ItemTypeGold, Quantity: refund}); err != nil {
		loggingeconomy.ItemGrantFailed(
			context.Background(),
			w.publisher,
			w.currentTick,
			w.entityRef(actorID),
			loggingeconomy.ItemGrantFailedPayload{ItemType: string(ItemTypeGold), Quantity: refund, Reason: "sell_refund"},
			map[string]any{"error": err.Error()},
		)
		return
	}

	player.version++
}

// handleRecallCommand starts (or restarts) the actor's recall channel. The
// teleport itself happens in advanceRecalls once the channel completes
// without being interrupted by movement.
func (w *World) handleRecallCommand(actorID string, now time.Time) {
	player, ok := w.players[actorID]
	if !ok {
		return
	}
	player.recallAt = now.Add(recallChannelDuration)
	w.emitEvent(EventRecallStarted, actorID, nil)
}

// advanceRecalls teleports any actor whose recall channel has completed back
// to the default spawn point.
func (w *World) advanceRecalls(now time.Time) {
	for id, player := range w.players {
		if player.recallAt.IsZero() || now.Before(player.recallAt) {
			continue
		}
		player.recallAt = time.Time{}
		w.SetPosition(id, defaultSpawnX, defaultSpawnY)
		w.emitEvent(EventRecallFinished, id, nil)
	}
}

// handlePlaceWardCommand spawns a vision-only, non-damaging effect at the
// actor's current position, subject to a per-actor cooldown.
func (w *World) handlePlaceWardCommand(actorID string, now time.Time) {
	player, ok := w.players[actorID]
	if !ok {
		return
	}
	if !w.cooldownReady(&player.cooldowns, effectTypeWard, wardCooldown, now) {
		return
	}

	w.nextEffectID++
	effect := &effectState{
		Effect: Effect{
			ID:       fmt.Sprintf("effect-%d", w.nextEffectID),
			Type:     effectTypeWard,
			Owner:    actorID,
			Start:    now.UnixMilli(),
			Duration: wardDuration.Milliseconds(),
			X:        player.X,
			Y:        player.Y,
			Width:    wardVisionRadius * 2,
			Height:   wardVisionRadius * 2,
			Params: map[string]float64{
				"visionRadius": wardVisionRadius,
			},
		},
		expiresAt:          now.Add(wardDuration),
		telemetrySource:    telemetrySourceLegacy,
		telemetrySpawnTick: Tick(int64(w.currentTick)),
	}
	w.effects = append(w.effects, effect)
	w.recordEffectSpawn(effectTypeWard, "ward")
	w.emitEvent(EventWardPlaced, actorID, map[string]any{"effectId": effect.ID})
}
