package netclient

import "math"

// pendingInput is one locally-applied, not-yet-acknowledged command.
type pendingInput struct {
	cmd    InputCommand
	dtSecs float64
}

// Reconciler predicts a single controlled entity's position ahead of the
// server by applying each outgoing input locally the instant it is sent, then
// replays the still-unacknowledged tail against a fresh server position
// whenever a commandAck/state message moves the ack cursor forward. The
// displacement step itself — normalize intent, scale by MoveSpeed*dt, clamp
// to world bounds — mirrors rift-and-ruin/server's moveActorWithObstacles,
// minus obstacle collision: a client-side mispredict against a wall corrects
// itself at the next snapshot, which the bounded pending-input log and snap
// threshold below exist to make inexpensive.
type Reconciler struct {
	cfg     Config
	pending []pendingInput

	predictedX, predictedY float64
	lastAckSeq             uint64
	haveBaseline           bool

	lastError float64
	snapCount uint64
}

// NewReconciler creates a Reconciler with no baseline position yet; Seed
// must be called once the first authoritative snapshot for the controlled
// entity arrives.
func NewReconciler(cfg Config) *Reconciler {
	return &Reconciler{cfg: cfg}
}

// Seed establishes (or hard-resets) the predicted position to an
// authoritative one and discards every pending input. NetworkLink calls it
// on join; Reconcile calls it when no baseline exists yet.
func (r *Reconciler) Seed(x, y float64, ackSeq uint64) {
	r.predictedX = x
	r.predictedY = y
	r.lastAckSeq = ackSeq
	r.haveBaseline = true
	r.pending = r.pending[:0]
}

// ApplyLocal predicts cmd immediately, before the server has seen it, and
// appends it to the pending log so a later reconciliation can replay it
// against a corrected baseline. Returns the resulting predicted position.
func (r *Reconciler) ApplyLocal(cmd InputCommand, dtSecs float64) (x, y float64) {
	r.predictedX, r.predictedY = applyDisplacement(r.predictedX, r.predictedY, cmd.DX, cmd.DY, dtSecs, r.cfg)

	r.pending = append(r.pending, pendingInput{cmd: cmd, dtSecs: dtSecs})
	if len(r.pending) > r.cfg.MaxPendingInputs {
		// The session is almost certainly disconnected, not merely behind:
		// drop the oldest rather than grow unbounded while waiting for acks
		// that are not coming.
		overflow := len(r.pending) - r.cfg.MaxPendingInputs
		r.pending = r.pending[overflow:]
	}
	return r.predictedX, r.predictedY
}

// Reconcile folds in an authoritative position for ackSeq (the highest
// command sequence the server had processed as of that snapshot) and
// replays every still-pending input on top of it. It reports the
// post-replay predicted position and whether the correction was large
// enough to be classified a hard snap rather than a smoothable drift — the
// caller decides whether to apply the snap immediately or blend toward it
// over a few frames using Config.ReconcileSmoothFactor.
func (r *Reconciler) Reconcile(authX, authY float64, ackSeq uint64) (x, y float64, snapped bool) {
	if !r.haveBaseline {
		r.Seed(authX, authY, ackSeq)
		return authX, authY, false
	}

	if ackSeq < r.lastAckSeq {
		// Stale ack (out-of-order delivery); nothing to do.
		return r.predictedX, r.predictedY, false
	}
	r.lastAckSeq = ackSeq

	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.cmd.Seq > ackSeq {
			kept = append(kept, p)
		}
	}
	r.pending = kept

	replayX, replayY := authX, authY
	for _, p := range r.pending {
		replayX, replayY = applyDisplacement(replayX, replayY, p.cmd.DX, p.cmd.DY, p.dtSecs, r.cfg)
	}

	dx := r.predictedX - replayX
	dy := r.predictedY - replayY
	distSq := dx*dx + dy*dy
	r.lastError = math.Sqrt(distSq)

	if r.cfg.ReconcileSnapThresholdSq > 0 && distSq >= r.cfg.ReconcileSnapThresholdSq {
		// Too far gone to paper over: jump straight to the corrected replay.
		r.predictedX, r.predictedY = replayX, replayY
		r.snapCount++
		return r.predictedX, r.predictedY, true
	}

	hold := r.cfg.ReconcileCorrectionThreshold
	if hold > 0 && distSq < hold*hold {
		// Within tolerance: keep the local prediction as-is. Constantly
		// re-targeting sub-threshold error would read as jitter, not
		// accuracy.
		return r.predictedX, r.predictedY, false
	}

	// In between: pull the rendered position partway toward the corrected
	// replay each ack, so a small misprediction never reads as a teleport.
	factor := r.cfg.ReconcileSmoothFactor
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	r.predictedX += (replayX - r.predictedX) * factor
	r.predictedY += (replayY - r.predictedY) * factor
	return r.predictedX, r.predictedY, false
}

// Predicted returns the current predicted position without altering it.
func (r *Reconciler) Predicted() (x, y float64) {
	return r.predictedX, r.predictedY
}

// PendingCount reports how many locally-applied inputs have not yet been
// acknowledged by the server.
func (r *Reconciler) PendingCount() int {
	return len(r.pending)
}

// LastError reports the prediction error measured at the most recent
// reconciliation, before any snap or smoothing was applied.
func (r *Reconciler) LastError() float64 {
	return r.lastError
}

// SnapCount reports how many reconciliations have exceeded the snap
// threshold since this Reconciler was created.
func (r *Reconciler) SnapCount() uint64 {
	return r.snapCount
}

func applyDisplacement(x, y, dx, dy, dtSecs float64, cfg Config) (float64, float64) {
	length := math.Hypot(dx, dy)
	if length != 0 {
		dx /= length
		dy /= length
	}

	nx := x + dx*cfg.MoveSpeed*dtSecs
	ny := y + dy*cfg.MoveSpeed*dtSecs

	if nx < 0 {
		nx = 0
	} else if cfg.WorldWidth > 0 && nx > cfg.WorldWidth {
		nx = cfg.WorldWidth
	}
	if ny < 0 {
		ny = 0
	} else if cfg.WorldHeight > 0 && ny > cfg.WorldHeight {
		ny = cfg.WorldHeight
	}
	return nx, ny
}
