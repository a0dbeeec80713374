package netclient

import "time"

// Predictor is the facade a render loop drives each frame: it owns the
// NetworkLink's buffer/reconciler/interpolator trio and exposes the single
// question a frame actually needs answered — "where is everything, right
// now, for this player." Remote entities come from the Interpolator (smooth,
// fixed-delay playback of authoritative snapshots); the controlled entity
// comes from the Reconciler (immediate local prediction, corrected against
// the same snapshots).
type Predictor struct {
	link         *NetworkLink
	interpolator *Interpolator
}

// NewPredictor wires a Predictor around an already-constructed NetworkLink.
func NewPredictor(link *NetworkLink, cfg Config) *Predictor {
	return &Predictor{
		link:         link,
		interpolator: NewInterpolator(link.Buffer(), cfg),
	}
}

// Frame is the per-render-tick view of the world: every entity's smoothed
// position except the locally controlled one, which reflects the
// Reconciler's predicted position instead.
type Frame struct {
	Entities    map[string]EntitySnapshot
	ControlledX float64
	ControlledY float64
	HasControl  bool
}

// Sample computes the frame to render at renderTime (normally time.Now() as
// read by the render loop). It never blocks on the network; if no snapshot
// has arrived yet it reports HasControl=false and an empty entity map rather
// than waiting.
func (p *Predictor) Sample(renderTime time.Time) Frame {
	entities, ok := p.interpolator.Sample(renderTime)
	if !ok {
		entities = map[string]EntitySnapshot{}
	}

	frame := Frame{Entities: entities}
	controlledID := p.link.PlayerID()
	if controlledID == "" {
		return frame
	}

	x, y := p.link.Reconciler().Predicted()
	frame.ControlledX = x
	frame.ControlledY = y
	frame.HasControl = true

	if self, ok := entities[controlledID]; ok {
		self.X, self.Y = x, y
		entities[controlledID] = self
	}
	return frame
}

// Move predicts and sends a movement input for the controlled entity. dt is
// the wall-clock time since the previous Move call, in seconds.
func (p *Predictor) Move(seq uint64, dx, dy float64, facing string, sentAt int64, dt float64) (x, y float64, sent bool) {
	return p.link.SendInput(InputCommand{Seq: seq, DX: dx, DY: dy, Facing: facing, SentAt: sentAt}, dt)
}

// Stats is the prediction-health bundle a HUD or diagnostics overlay polls
// alongside Sample.
type Stats struct {
	PendingInputs      int
	LastReconcileError float64
	Snaps              uint64
	BufferedSnapshots  int
	InterpolationDelay time.Duration
	AverageBufferDelay time.Duration
	RTT                time.Duration
}

// Stats reports the current prediction counters.
func (p *Predictor) Stats() Stats {
	rec := p.link.Reconciler()
	buf := p.link.Buffer()
	return Stats{
		PendingInputs:      rec.PendingCount(),
		LastReconcileError: rec.LastError(),
		Snaps:              rec.SnapCount(),
		BufferedSnapshots:  buf.Len(),
		InterpolationDelay: p.link.cfg.InterpolationDelay,
		AverageBufferDelay: buf.AverageBufferDelay(),
		RTT:                p.link.Latency().RTT(),
	}
}
