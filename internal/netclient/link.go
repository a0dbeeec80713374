package netclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"rift-and-ruin/server/logging"
)

// LinkState enumerates the NetworkLink's connection lifecycle. Reads are
// lock-free (atomic.Int32) since UI code polls State() far more often than
// the link itself transitions it, following the same atomic-state-for-
// hot-path-reads shape the la2go GameClient connection state uses.
type LinkState int32

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkReconnecting
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
	defaultReconnectMin  = 500 * time.Millisecond
	defaultReconnectMax  = 10 * time.Second
)

// NetworkLink is the client half of the websocket wire contract: it dials
// the server's /ws endpoint, decodes incoming join/state/keyframe/ack/
// reject/heartbeat frames into the buffer/reconciler/latency components, and
// queues outgoing sequenced commands for a dedicated writer goroutine. A
// dropped connection is retried with exponential backoff rather than
// surfaced as a fatal error, matching the "the client owns reconnection"
// framing in the wire contract.
type NetworkLink struct {
	url       string
	dialer    *websocket.Dialer
	publisher logging.Publisher

	state atomic.Int32

	buffer     *StateBuffer
	reconciler *Reconciler
	latency    *LatencyMonitor
	cfg        Config

	mu       sync.Mutex
	conn     *websocket.Conn
	sendCh   chan []byte
	playerID string

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewNetworkLink creates a link that will dial url (a ws:// or wss:// URI
// pointing at the server's /ws endpoint) once Run is called.
func NewNetworkLink(url string, cfg Config, publisher logging.Publisher) *NetworkLink {
	if publisher == nil {
		publisher = logging.NopPublisher{}
	}
	return &NetworkLink{
		url:        url,
		dialer:     websocket.DefaultDialer,
		publisher:  publisher,
		buffer:     NewStateBuffer(cfg),
		reconciler: NewReconciler(cfg),
		latency:    NewLatencyMonitor(),
		cfg:        cfg,
		sendCh:     make(chan []byte, defaultSendQueueSize),
		closeCh:    make(chan struct{}),
	}
}

// Buffer returns the StateBuffer fed by incoming snapshots.
func (l *NetworkLink) Buffer() *StateBuffer { return l.buffer }

// Reconciler returns the Reconciler driven by acks delivered over this link.
func (l *NetworkLink) Reconciler() *Reconciler { return l.reconciler }

// Latency returns the LatencyMonitor fed by heartbeat round trips.
func (l *NetworkLink) Latency() *LatencyMonitor { return l.latency }

// State returns the current connection lifecycle state.
func (l *NetworkLink) State() LinkState { return LinkState(l.state.Load()) }

// PlayerID returns the session ID assigned by the server's join response,
// empty until the first successful join.
func (l *NetworkLink) PlayerID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.playerID
}

// Run dials the server and processes frames until ctx is canceled or Close
// is called, reconnecting with exponential backoff on any transport error.
// It blocks; callers run it in its own goroutine.
func (l *NetworkLink) Run(ctx context.Context) error {
	backoff := defaultReconnectMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closeCh:
			return nil
		default:
		}

		l.state.Store(int32(LinkConnecting))
		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			l.publishEvent(logging.SeverityWarn, "dial failed", map[string]any{"error": err.Error()})
			if !l.sleepBackoff(ctx, &backoff) {
				return ctx.Err()
			}
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		l.state.Store(int32(LinkConnected))
		l.buffer.Reset()
		backoff = defaultReconnectMin

		writerDone := make(chan struct{})
		go l.writePump(conn, writerDone)

		err = l.readLoop(conn)
		conn.Close()
		<-writerDone

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closeCh:
			return nil
		default:
		}

		l.state.Store(int32(LinkReconnecting))
		l.publishEvent(logging.SeverityWarn, "connection lost, reconnecting", map[string]any{"error": fmt.Sprint(err)})
		if !l.sleepBackoff(ctx, &backoff) {
			return ctx.Err()
		}
	}
}

func (l *NetworkLink) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
		return false
	case <-l.closeCh:
		return false
	}
	*backoff *= 2
	if *backoff > defaultReconnectMax {
		*backoff = defaultReconnectMax
	}
	return true
}

func (l *NetworkLink) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.dispatch(data)
	}
}

func (l *NetworkLink) dispatch(data []byte) {
	var envelope wireEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "", "join":
		var msg wireJoin
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		l.mu.Lock()
		l.playerID = msg.ID
		l.mu.Unlock()
		snap := snapshotFromWire(0, 0, msg.Resync, msg.Players, msg.NPCs)
		l.buffer.Add(snap)
		if self, ok := snap.Entities[msg.ID]; ok {
			l.reconciler.Seed(self.X, self.Y, 0)
		}

	case "state":
		var msg wireState
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		snap := snapshotFromWire(msg.Tick, msg.ServerTime, msg.Resync, msg.Players, msg.NPCs)
		for _, evt := range msg.Events {
			snap.Events = append(snap.Events, Event{Tick: evt.Tick, EntityID: evt.EntityID, Type: evt.Type})
		}
		l.buffer.Add(snap)

	case "keyframe":
		var msg wireKeyframe
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		snap := snapshotFromWire(msg.Tick, 0, true, msg.Players, msg.NPCs)
		l.buffer.Add(snap)

	case "commandAck":
		var msg wireCommandAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if latest, ok := l.buffer.Latest(); ok {
			if self, ok := latest.Entities[l.PlayerID()]; ok {
				l.reconciler.Reconcile(self.X, self.Y, msg.Seq)
			}
		}

	case "commandReject":
		var msg wireCommandReject
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		l.publishEvent(logging.SeverityWarn, "command rejected", map[string]any{
			"seq": msg.Seq, "reason": msg.Reason, "retry": msg.Retry,
		})

	case "heartbeat", "pong":
		var msg wireHeartbeat
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		if msg.ClientTime != 0 {
			rtt := time.Since(time.UnixMilli(msg.ClientTime))
			l.latency.Update(rtt)
		}
	}
}

func (l *NetworkLink) writePump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		select {
		case payload, ok := <-l.sendCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				l.publishEvent(logging.SeverityWarn, "write failed", map[string]any{"error": err.Error()})
				return
			}
		case <-l.closeCh:
			return
		}
	}
}

// SendInput predicts cmd locally via the Reconciler and queues it for
// delivery to the server. It never blocks: a full send queue means the
// connection cannot keep up, so the input is dropped rather than stalling
// the caller's render loop.
func (l *NetworkLink) SendInput(cmd InputCommand, dtSecs float64) (x, y float64, sent bool) {
	x, y = l.reconciler.ApplyLocal(cmd, dtSecs)

	payload, err := json.Marshal(outboundCommand{
		Type:   "input",
		Seq:    cmd.Seq,
		DX:     cmd.DX,
		DY:     cmd.DY,
		Facing: cmd.Facing,
		SentAt: cmd.SentAt,
	})
	if err != nil {
		return x, y, false
	}

	select {
	case l.sendCh <- payload:
		return x, y, true
	default:
		return x, y, false
	}
}

// Close stops Run and the writer goroutine, closing the underlying
// connection if one is open. Safe to call multiple times.
func (l *NetworkLink) Close() {
	l.closeOnce.Do(func() {
		close(l.closeCh)
		l.mu.Lock()
		if l.conn != nil {
			l.conn.Close()
		}
		l.mu.Unlock()
	})
}

func (l *NetworkLink) publishEvent(sev logging.Severity, message string, extra map[string]any) {
	extra["message"] = message
	l.publisher.Publish(context.Background(), logging.Event{
		Time:     time.Now(),
		Severity: sev,
		Category: "netclient",
		Extra:    extra,
	})
}
