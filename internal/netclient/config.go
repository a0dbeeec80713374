// Package netclient implements the client half of the netcode contract: a
// StateBuffer that smooths what the server sends, a Reconciler/Predictor that
// apply local input immediately and correct for server disagreement, and a
// NetworkLink that carries sequenced commands out and snapshots back over a
// reconnecting websocket.
//
// None of this package depends on rift-and-ruin/server — a client runs as
// its own process against the server's wire contract, not as an in-process
// call. Constants mirroring the server's own (move speed,
// world bounds) live in Config and must be kept in sync with constants.go by
// whoever wires a Client up against a given deployment.
package netclient

import "time"

// Config parameterizes the client-side simulation so it can replay the same
// displacement math the authoritative server uses for its own tick. The
// defaults match rift-and-ruin/server's constants.go.
type Config struct {
	// TickRate is the server's fixed simulation rate, in ticks per second.
	TickRate int

	// MoveSpeed is the world distance a controlled entity covers per second
	// of held movement intent, matching the server's moveSpeed.
	MoveSpeed float64

	// WorldWidth and WorldHeight bound local dead-reckoning so a mispredict
	// never walks an entity off the playable map before the next snapshot
	// corrects it.
	WorldWidth  float64
	WorldHeight float64

	// InterpolationDelay is how far behind the newest received snapshot the
	// Interpolator renders, trading latency for smoothness across jitter.
	// The default is 100ms.
	InterpolationDelay time.Duration

	// SnapshotBufferSize bounds how many snapshots StateBuffer retains.
	// Oldest entries are trimmed once the buffer exceeds this size.
	SnapshotBufferSize int

	// MaxPendingInputs bounds the Reconciler's unacknowledged-input log. A
	// session that buffers more than this before any ack arrives is almost
	// certainly disconnected, not merely laggy.
	MaxPendingInputs int

	// ReconcileCorrectionThreshold is the distance below which a server
	// correction is ignored entirely: the prediction is within tolerance and
	// re-targeting it would only add jitter.
	ReconcileCorrectionThreshold float64

	// ReconcileSnapThresholdSq is the squared distance beyond which a server
	// correction is applied immediately rather than smoothed over several
	// frames — the predicted and authoritative positions disagree too much
	// to paper over without the correction itself becoming visible as lag.
	ReconcileSnapThresholdSq float64

	// ReconcileSmoothFactor is how much of the remaining error is removed
	// each frame when a correction is small enough to smooth (a simple
	// exponential decay toward the authoritative position).
	ReconcileSmoothFactor float64
}

// DefaultConfig returns the parameters matching rift-and-ruin/server's own
// constants (tickRate 125Hz, moveSpeed 160px/s, 2400x1800 world).
func DefaultConfig() Config {
	return Config{
		TickRate:                     125,
		MoveSpeed:                    160.0,
		WorldWidth:                   2400.0,
		WorldHeight:                  1800.0,
		InterpolationDelay:           100 * time.Millisecond,
		SnapshotBufferSize:           250,
		MaxPendingInputs:             60,
		ReconcileCorrectionThreshold: 5,
		ReconcileSnapThresholdSq:     100 * 100,
		ReconcileSmoothFactor:        0.3,
	}
}
