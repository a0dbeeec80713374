package netclient

import (
	"sync"
	"time"
)

// Latency quality thresholds, matching the bands the opd-ai-violence
// reference's network package classifies round-trip time into. rift-and-
// ruin/server's own heartbeatMessage already carries an RTT estimate; this
// just gives the client a stable classification to gate predictive input
// and surface a reconnect prompt on, instead of comparing raw milliseconds
// ad hoc at every call site.
const (
	LatencyOptimal  = 200 * time.Millisecond
	LatencyDegraded = 500 * time.Millisecond
	LatencyPoor     = 5000 * time.Millisecond
)

// LatencyQuality classifies a round-trip time.
type LatencyQuality string

const (
	QualityOptimal   LatencyQuality = "optimal"
	QualityDegraded  LatencyQuality = "degraded"
	QualityPoor      LatencyQuality = "poor"
	QualitySpectator LatencyQuality = "spectator"
)

// ClassifyLatency buckets an RTT sample into a LatencyQuality.
func ClassifyLatency(rtt time.Duration) LatencyQuality {
	switch {
	case rtt <= LatencyOptimal:
		return QualityOptimal
	case rtt <= LatencyDegraded:
		return QualityDegraded
	case rtt <= LatencyPoor:
		return QualityPoor
	default:
		return QualitySpectator
	}
}

// LatencyMonitor tracks the most recent RTT sample for a connection and the
// spectator/reconnect-prompt state derived from it.
type LatencyMonitor struct {
	mu             sync.RWMutex
	rtt            time.Duration
	lastSampleAt   time.Time
	spectatorMode  bool
	reconnectReady bool
}

// NewLatencyMonitor creates an empty monitor; it reports QualityOptimal
// until the first sample arrives.
func NewLatencyMonitor() *LatencyMonitor {
	return &LatencyMonitor{}
}

// Update records a fresh RTT sample, taken from a heartbeat/pong round trip,
// and flips spectator/reconnect state at the configured thresholds.
func (m *LatencyMonitor) Update(rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rtt = rtt
	m.lastSampleAt = time.Now()

	if rtt > LatencyPoor && !m.spectatorMode {
		m.spectatorMode = true
		m.reconnectReady = true
	} else if rtt <= LatencyDegraded && m.spectatorMode {
		m.spectatorMode = false
	}
}

// RTT returns the last recorded round-trip time.
func (m *LatencyMonitor) RTT() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rtt
}

// Quality classifies the last recorded RTT.
func (m *LatencyMonitor) Quality() LatencyQuality {
	return ClassifyLatency(m.RTT())
}

// IsSpectator reports whether latency is currently bad enough that input
// prediction should stop and the player should be shown as a spectator.
func (m *LatencyMonitor) IsSpectator() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spectatorMode
}

// ShouldReconnect reports (and does not clear) whether a reconnect prompt is
// pending; call AcknowledgeReconnect once the UI has shown it.
func (m *LatencyMonitor) ShouldReconnect() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnectReady
}

// AcknowledgeReconnect clears the pending reconnect prompt flag.
func (m *LatencyMonitor) AcknowledgeReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectReady = false
}
