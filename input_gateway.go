package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// InputKind enumerates the closed set of client input kinds admitted to the
// simulation. A kind outside this set is rejected before a rate limiter or
// payload validator ever sees it.
type InputKind string

const (
	InputMove       InputKind = "MOVE"
	InputAttackMove InputKind = "ATTACK_MOVE"
	InputTargetUnit InputKind = "TARGET_UNIT"
	InputStop       InputKind = "STOP"
	InputAbility    InputKind = "ABILITY"
	InputLevelUp    InputKind = "LEVEL_UP"
	InputBuyItem    InputKind = "BUY_ITEM"
	InputSellItem   InputKind = "SELL_ITEM"
	InputRecall     InputKind = "RECALL"
	InputPlaceWard  InputKind = "PLACE_WARD"
	InputPing       InputKind = "PING"
	InputChat       InputKind = "CHAT"
)

// Reject reasons surfaced to clients over commandReject. Ordering here
// mirrors the admission pipeline: a sequence rejection is checked first by
// the websocket handler, then kind, then rate, then payload shape.
const (
	commandRejectOldSequence    = "old_sequence"
	commandRejectUnknownActor   = "unknown_actor"
	commandRejectInvalidAction  = "invalid_action"
	commandRejectUnknownKind    = "invalid_type"
	commandRejectRateLimited    = "rate_limited"
	commandRejectInvalidPayload = "invalid_payload"
	commandRejectQueueLimit     = "queue_limit"
)

// inputRateCaps gives the reference per-kind ceiling: a session may not have
// more than this many inputs of the kind accepted within a rolling
// one-second window. golang.org/x/time/rate's token bucket (refill rate
// equal to the cap, burst equal to the cap) approximates that window: it
// admits bursts up to the cap and then throttles to the steady-state rate,
// which keeps long-run acceptance strictly at or below the reference cap
// without the bookkeeping cost of a true sliding window.
var inputRateCaps = map[InputKind]float64{
	InputMove:       20,
	InputAttackMove: 20,
	InputTargetUnit: 20,
	InputStop:       20,
	InputAbility:    8,
	InputLevelUp:    5,
	InputBuyItem:    5,
	InputSellItem:   5,
	InputRecall:     2,
	InputPlaceWard:  5,
	InputPing:       5,
	InputChat:       3,
}

func validInputKind(kind InputKind) bool {
	_, ok := inputRateCaps[kind]
	return ok
}

func newKindLimiter(kind InputKind) *rate.Limiter {
	ceiling := inputRateCaps[kind]
	if ceiling <= 0 {
		ceiling = 1
	}
	return rate.NewLimiter(rate.Limit(ceiling), int(ceiling))
}

const defaultGatewayQueueLimit = 256

// InputGateway runs the rate-limit and back-pressure admission stages for
// sequenced client inputs. Sequence-number monotonicity is enforced by the
// websocket handler (it already tracks lastCommandSeq per subscriber to
// drive the duplicate-ack path), and payload well-formedness is checked by
// each Hub command handler once a kind clears the gateway. InputGateway owns
// the two stages that are shared across every kind: "is this a kind we
// admit at all" and "has this session exceeded its rate for this kind".
type InputGateway struct {
	mu        sync.Mutex
	limiters  map[string]map[InputKind]*rate.Limiter
	queued    map[string]int
	maxQueued int
}

func newInputGateway(maxQueued int) *InputGateway {
	if maxQueued <= 0 {
		maxQueued = defaultGatewayQueueLimit
	}
	return &InputGateway{
		limiters:  make(map[string]map[InputKind]*rate.Limiter),
		queued:    make(map[string]int),
		maxQueued: maxQueued,
	}
}

func (g *InputGateway) limiterFor(playerID string, kind InputKind) *rate.Limiter {
	perPlayer, ok := g.limiters[playerID]
	if !ok {
		perPlayer = make(map[InputKind]*rate.Limiter)
		g.limiters[playerID] = perPlayer
	}
	limiter, ok := perPlayer[kind]
	if !ok {
		limiter = newKindLimiter(kind)
		perPlayer[kind] = limiter
	}
	return limiter
}

// Admit runs the kind, rate-limit, and queue back-pressure admission stages
// for a single input of the given kind on behalf of playerID. A true result
// reserves one slot in the session's pending-command budget; callers that
// go on to enqueue a Command must eventually balance it with Release, and
// callers that reject the input after Admit succeeds (failed payload
// validation, for instance) must call Release immediately.
func (g *InputGateway) Admit(playerID string, kind InputKind) (bool, string) {
	if !validInputKind(kind) {
		observeInputRejected(commandRejectUnknownKind)
		return false, commandRejectUnknownKind
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.limiterFor(playerID, kind).Allow() {
		observeInputRejected(commandRejectRateLimited)
		return false, commandRejectRateLimited
	}

	if g.queued[playerID] >= g.maxQueued {
		observeInputRejected(commandRejectQueueLimit)
		return false, commandRejectQueueLimit
	}

	g.queued[playerID]++
	return true, ""
}

// Release returns n previously admitted slots to playerID's budget. The tick
// loop calls this once per drained command; command handlers that abort
// after Admit succeeds call it with n=1 to avoid leaking a slot.
func (g *InputGateway) Release(playerID string, n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := g.queued[playerID] - n
	if remaining < 0 {
		remaining = 0
	}
	g.queued[playerID] = remaining
}

// Disconnect drops rate-limit and queue state for playerID. Nothing here
// tracks last-accepted sequence numbers; that is the subscriber's
// lastCommandSeq, which the hub intentionally keeps alive across a
// reconnect under the same playerID so replayed inputs still dedupe.
func (g *InputGateway) Disconnect(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.limiters, playerID)
	delete(g.queued, playerID)
}
