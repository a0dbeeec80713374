package netclient

import "time"

// Interpolator renders the world a fixed delay behind the render clock so
// the client always has two real samples to blend between, masking jitter in
// delivery timing at the cost of that fixed latency. The render-behind
// amount is Config.InterpolationDelay, following the opd-ai-violence network
// package's InterpolationDelay split.
type Interpolator struct {
	buffer *StateBuffer
	delay  time.Duration
}

// NewInterpolator creates an Interpolator that reads from buf and renders
// cfg.InterpolationDelay behind the caller's render clock.
func NewInterpolator(buf *StateBuffer, cfg Config) *Interpolator {
	delay := cfg.InterpolationDelay
	if delay < 0 {
		delay = 0
	}
	return &Interpolator{buffer: buf, delay: delay}
}

// Sample returns the entity states to render at renderTime: the linear blend
// of the two buffered snapshots whose arrival times bracket
// renderTime - delay. A target older than the whole buffer renders the
// oldest snapshot (factor 0); one newer than the whole buffer renders the
// newest (factor 1). Two snapshots that arrived at the same instant blend
// with factor 0, so the result is always finite.
func (ip *Interpolator) Sample(renderTime time.Time) (map[string]EntitySnapshot, bool) {
	target := renderTime.Add(-ip.delay)

	prev, next, ok := ip.buffer.SurroundingAt(target)
	if !ok {
		if oldest, ok := ip.buffer.Oldest(); ok && target.Before(oldest.ReceivedAt) {
			return cloneEntities(oldest.Entities), true
		}
		if latest, ok := ip.buffer.Latest(); ok {
			return cloneEntities(latest.Entities), true
		}
		return nil, false
	}

	span := next.ReceivedAt.Sub(prev.ReceivedAt)
	var frac float64
	if span > 0 {
		frac = float64(target.Sub(prev.ReceivedAt)) / float64(span)
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	out := make(map[string]EntitySnapshot, len(next.Entities))
	for id, nextEntity := range next.Entities {
		prevEntity, existed := prev.Entities[id]
		if !existed {
			// Entered the world between prev and next (join, spawn): render
			// it at its first known position rather than lerping from zero.
			out[id] = nextEntity
			continue
		}
		out[id] = lerpEntity(prevEntity, nextEntity, frac)
	}
	return out, true
}

// cloneEntities copies a buffered entity map so callers can overlay their
// own state without mutating the buffer's history.
func cloneEntities(src map[string]EntitySnapshot) map[string]EntitySnapshot {
	out := make(map[string]EntitySnapshot, len(src))
	for id, e := range src {
		out[id] = e
	}
	return out
}

func lerpEntity(a, b EntitySnapshot, frac float64) EntitySnapshot {
	// Discrete fields (health, facing, flags) come from whichever sample is
	// nearer; only the position itself is blended.
	out := b
	if frac < 0.5 {
		out = a
	}
	out.X = a.X + (b.X-a.X)*frac
	out.Y = a.Y + (b.Y-a.Y)*frac
	return out
}
