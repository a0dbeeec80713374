package server

import (
	"encoding/json"
	stdlog "log"
	"time"
)

// HandleTargetUnit admits a TARGET_UNIT input and queues a command recording
// the actor's new focus target.
func (h *Hub) HandleTargetUnit(playerID, targetID string) (Command, bool, string) {
	if !h.playerExists(playerID) {
		return Command{}, false, commandRejectUnknownActor
	}
	if ok, reason := h.gateway.Admit(playerID, InputTargetUnit); !ok {
		return Command{}, false, reason
	}
	if targetID == "" {
		h.gateway.Release(playerID, 1)
		return Command{}, false, commandRejectInvalidPayload
	}

	cmd := Command{
		OriginTick: h.tick.Load(),
		ActorID:    playerID,
		Type:       CommandTargetUnit,
		IssuedAt:   time.Now(),
		TargetUnit: &TargetUnitCommand{TargetID: targetID},
	}
	h.enqueueCommand(cmd)
	return cmd, true, ""
}

// HandleLevelUp admits a LEVEL_UP input and queues the progression command.
func (h *Hub) HandleLevelUp(playerID string) (Command, bool, string) {
	if !h.playerExists(playerID) {
		return Command{}, false, commandRejectUnknownActor
	}
	if ok, reason := h.gateway.Admit(playerID, InputLevelUp); !ok {
		return Command{}, false, reason
	}

	cmd := Command{
		OriginTick: h.tick.Load(),
		ActorID:    playerID,
		Type:       CommandLevelUp,
		IssuedAt:   time.Now(),
		LevelUp:    &LevelUpCommand{},
	}
	h.enqueueCommand(cmd)
	return cmd, true, ""
}

// HandleBuyItem admits a BUY_ITEM input and queues the trade command.
func (h *Hub) HandleBuyItem(playerID string, item ItemType, qty int) (Command, bool, string) {
	if !h.playerExists(playerID) {
		return Command{}, false, commandRejectUnknownActor
	}
	if ok, reason := h.gateway.Admit(playerID, InputBuyItem); !ok {
		return Command{}, false, reason
	}
	if qty <= 0 {
		h.gateway.Release(playerID, 1)
		return Command{}, false, commandRejectInvalidPayload
	}
	if _, known := shopCatalog[item]; !known {
		h.gateway.Release(playerID, 1)
		return Command{}, false, commandRejectInvalidPayload
	}

	cmd := Command{
		OriginTick: h.tick.Load(),
		ActorID:    playerID,
		Type:       CommandBuyItem,
		IssuedAt:   time.Now(),
		BuyItem:    &TradeCommand{ItemType: item, Quantity: qty},
	}
	h.enqueueCommand(cmd)
	return cmd, true, ""
}

// HandleSellItem admits a SELL_ITEM input and queues the trade command.
func (h *Hub) HandleSellItem(playerID string, item ItemType, qty int) (Command, bool, string) {
	if !h.playerExists(playerID) {
		return Command{}, false, commandRejectUnknownActor
	}
	if ok, reason := h.gateway.Admit(playerID, InputSellItem); !ok {
		return Command{}, false, reason
	}
	if qty <= 0 {
		h.gateway.Release(playerID, 1)
		return Command{}, false, commandRejectInvalidPayload
	}
	if _, known := shopCatalog[item]; !known {
		h.gateway.Release(playerID, 1)
		return Command{}, false, commandRejectInvalidPayload
	}

	cmd := Command{
		OriginTick: h.tick.Load(),
		ActorID:    playerID,
		Type:       CommandSellItem,
		IssuedAt:   time.Now(),
		SellItem:   &TradeCommand{ItemType: item, Quantity: qty},
	}
	h.enqueueCommand(cmd)
	return cmd, true, ""
}

// HandleRecall admits a RECALL input and queues the channel-start command.
func (h *Hub) HandleRecall(playerID string) (Command, bool, string) {
	if !h.playerExists(playerID) {
		return Command{}, false, commandRejectUnknownActor
	}
	if ok, reason := h.gateway.Admit(playerID, InputRecall); !ok {
		return Command{}, false, reason
	}

	cmd := Command{
		OriginTick: h.tick.Load(),
		ActorID:    playerID,
		Type:       CommandRecall,
		IssuedAt:   time.Now(),
		Recall:     &RecallCommand{},
	}
	h.enqueueCommand(cmd)
	return cmd, true, ""
}

// HandlePlaceWard admits a PLACE_WARD input and queues the ward-spawn command.
func (h *Hub) HandlePlaceWard(playerID string) (Command, bool, string) {
	if !h.playerExists(playerID) {
		return Command{}, false, commandRejectUnknownActor
	}
	if ok, reason := h.gateway.Admit(playerID, InputPlaceWard); !ok {
		return Command{}, false, reason
	}

	cmd := Command{
		OriginTick: h.tick.Load(),
		ActorID:    playerID,
		Type:       CommandPlaceWard,
		IssuedAt:   time.Now(),
		PlaceWard:  &PlaceWardCommand{},
	}
	h.enqueueCommand(cmd)
	return cmd, true, ""
}

// HandlePing admits a PING input. PING never touches the simulation: the
// websocket handler answers it directly with the current server clock so
// round-trip measurement stays independent of tick cadence and of the
// separate heartbeat channel.
func (h *Hub) HandlePing(playerID string) (bool, string) {
	if !h.playerExists(playerID) {
		return false, commandRejectUnknownActor
	}
	ok, reason := h.gateway.Admit(playerID, InputPing)
	if !ok {
		return false, reason
	}
	h.gateway.Release(playerID, 1)
	return true, ""
}

// HandleChat admits a CHAT input and returns the trimmed text to broadcast.
// CHAT never touches the simulation or the command queue; it is fanned out
// to subscribers directly by the caller.
func (h *Hub) HandleChat(playerID, text string) (string, bool, string) {
	if !h.playerExists(playerID) {
		return "", false, commandRejectUnknownActor
	}
	ok, reason := h.gateway.Admit(playerID, InputChat)
	if !ok {
		return "", false, reason
	}
	h.gateway.Release(playerID, 1)
	if len(text) == 0 {
		return "", false, commandRejectInvalidPayload
	}
	const maxChatLen = 240
	if len(text) > maxChatLen {
		text = text[:maxChatLen]
	}
	return text, true, ""
}

// BroadcastChat fans a chat line out through every subscriber queue,
// mirroring broadcastState's iteration. A full queue drops the line for that
// subscriber only.
func (h *Hub) BroadcastChat(playerID, text string) {
	msg := chatMessage{
		Ver:        ProtocolVersion,
		Type:       "chat",
		PlayerID:   playerID,
		Text:       text,
		ServerTime: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		stdlog.Printf("failed to marshal chat message from %s: %v", playerID, err)
		return
	}

	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.EnqueueBroadcast(h.now(), data); err != nil {
			stdlog.Printf("dropping chat frame for %s: %v", id, err)
		}
	}
}
