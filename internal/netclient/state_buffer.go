package netclient

import (
	"sync"
	"time"
)

// StateBuffer retains the most recent authoritative snapshots the
// NetworkLink has delivered, oldest-trimmed once it grows past Config's
// SnapshotBufferSize. The trim-on-overflow shape follows the prediction
// service's InputBuffer/SnapshotBuffer handling in the retrieval pack's
// annel0-mmo-game reference: append, then slice off the front when over
// capacity, rather than a ring index — simpler to reason about at this
// buffer size and cheap enough at one append per tick.
type StateBuffer struct {
	mu        sync.RWMutex
	snapshots []Snapshot
	maxSize   int

	// serverTimeOffset estimates localNow - serverTime in milliseconds. A
	// resync snapshot resets it outright; ordinary deltas fold in with an
	// exponential moving average so one delayed frame cannot yank the clock.
	serverTimeOffset float64
	haveOffset       bool
}

// serverTimeOffsetSmoothing is the EMA weight kept from the previous offset
// estimate on each non-resync snapshot.
const serverTimeOffsetSmoothing = 0.9

// NewStateBuffer creates a buffer honoring cfg.SnapshotBufferSize.
func NewStateBuffer(cfg Config) *StateBuffer {
	maxSize := cfg.SnapshotBufferSize
	if maxSize < 2 {
		maxSize = 2
	}
	return &StateBuffer{
		snapshots: make([]Snapshot, 0, maxSize),
		maxSize:   maxSize,
	}
}

// Add records a newly received snapshot. Snapshots must arrive in
// non-decreasing Tick order; the NetworkLink enforces that by construction
// (it reads one websocket frame at a time), so Add does not re-sort.
func (b *StateBuffer) Add(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now()
	}
	if snap.ServerTime != 0 {
		sample := float64(snap.ReceivedAt.UnixMilli() - snap.ServerTime)
		if !b.haveOffset || snap.Resync {
			b.serverTimeOffset = sample
			b.haveOffset = true
		} else {
			b.serverTimeOffset = serverTimeOffsetSmoothing*b.serverTimeOffset + (1-serverTimeOffsetSmoothing)*sample
		}
	}

	b.snapshots = append(b.snapshots, snap.clone())
	if len(b.snapshots) > b.maxSize {
		b.snapshots = b.snapshots[len(b.snapshots)-b.maxSize:]
	}
}

// ServerTimeOffset reports the current localNow-minus-serverTime estimate.
// ok is false until at least one timestamped snapshot has arrived.
func (b *StateBuffer) ServerTimeOffset() (offset time.Duration, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.haveOffset {
		return 0, false
	}
	return time.Duration(b.serverTimeOffset) * time.Millisecond, true
}

// AverageBufferDelay reports the mean per-snapshot network delay across the
// buffered window: how long after (offset-corrected) server send each
// snapshot actually arrived. Near zero on a quiet link, it grows with
// delivery jitter.
func (b *StateBuffer) AverageBufferDelay() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.haveOffset || len(b.snapshots) == 0 {
		return 0
	}
	var totalMillis float64
	samples := 0
	for _, snap := range b.snapshots {
		if snap.ServerTime == 0 || snap.ReceivedAt.IsZero() {
			continue
		}
		delay := float64(snap.ReceivedAt.UnixMilli()-snap.ServerTime) - b.serverTimeOffset
		totalMillis += delay
		samples++
	}
	if samples == 0 {
		return 0
	}
	return time.Duration(totalMillis/float64(samples)) * time.Millisecond
}

// Latest returns the newest buffered snapshot, if any.
func (b *StateBuffer) Latest() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.snapshots) == 0 {
		return Snapshot{}, false
	}
	return b.snapshots[len(b.snapshots)-1], true
}

// Oldest returns the oldest buffered snapshot, if any.
func (b *StateBuffer) Oldest() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.snapshots) == 0 {
		return Snapshot{}, false
	}
	return b.snapshots[0], true
}

// SurroundingAt returns the two buffered snapshots whose arrival times
// bracket target, for the Interpolator to blend between. When target falls
// before the oldest buffered snapshot or after the newest, ok is false and
// the caller should clamp to Oldest or Latest.
func (b *StateBuffer) SurroundingAt(target time.Time) (prev, next Snapshot, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := 0; i < len(b.snapshots)-1; i++ {
		if !b.snapshots[i].ReceivedAt.After(target) && !b.snapshots[i+1].ReceivedAt.Before(target) {
			return b.snapshots[i], b.snapshots[i+1], true
		}
	}
	return Snapshot{}, Snapshot{}, false
}

// Len reports how many snapshots are currently buffered.
func (b *StateBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snapshots)
}

// Reset drops every buffered snapshot, used when the NetworkLink reconnects
// and a fresh keyframe makes the old buffer's ticks meaningless.
func (b *StateBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = b.snapshots[:0]
	b.serverTimeOffset = 0
	b.haveOffset = false
}
