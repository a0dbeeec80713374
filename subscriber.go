package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// subscriberSendQueueSize bounds the per-subscriber outbound queue. When the
// queue is full the current broadcast is dropped for that subscriber only; the
// journal keeps accumulating, so the next successful send carries a larger
// delta instead of queueing stale frames behind a slow link.
const subscriberSendQueueSize = 32

var errSubscriberQueueFull = errors.New("subscriber send queue full")

// subscriberConn is the minimal write surface the subscriber needs from its
// transport. *websocket.Conn is adapted through wsSubscriberConn; tests plug
// in recording stubs.
type subscriberConn interface {
	Write(payload []byte) error
	SetWriteDeadline(deadline time.Time) error
	Close() error
}

// wsSubscriberConn adapts a websocket connection to the subscriberConn surface.
type wsSubscriberConn struct {
	conn *websocket.Conn
}

func (c wsSubscriberConn) Write(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c wsSubscriberConn) SetWriteDeadline(deadline time.Time) error {
	return c.conn.SetWriteDeadline(deadline)
}

func (c wsSubscriberConn) Close() error {
	return c.conn.Close()
}

// subscriberQueueTelemetry receives queue depth and drop observations from the
// subscriber's writer.
type subscriberQueueTelemetry interface {
	RecordSubscriberQueueDepth(depth int)
	RecordSubscriberQueueDrop(depth int)
}

type outboundFrame struct {
	deadline time.Time
	payload  []byte
}

// subscriber owns one client's outbound stream: a bounded frame queue drained
// by a dedicated writer, plus the per-connection ack and rate-limit state.
type subscriber struct {
	conn      subscriberConn
	mu        sync.Mutex // serializes writes between the pump and direct sends
	queue     chan outboundFrame
	telemetry subscriberQueueTelemetry
	closed    chan struct{}
	closeOnce sync.Once

	lastAck        atomic.Uint64
	lastCommandSeq atomic.Uint64
	limiter        keyframeRateLimiter

	visMu       sync.Mutex
	lastVisible map[string]struct{}
}

func newSubscriber(conn subscriberConn, telemetry subscriberQueueTelemetry) *subscriber {
	sub := &subscriber{
		conn:      conn,
		queue:     make(chan outboundFrame, subscriberSendQueueSize),
		telemetry: telemetry,
		closed:    make(chan struct{}),
		limiter:   newKeyframeRateLimiter(keyframeLimiterCapacity, keyframeLimiterRefillPer),
	}
	go sub.writePump()
	return sub
}

func (s *subscriber) recordDepth(depth int) {
	if s.telemetry != nil {
		s.telemetry.RecordSubscriberQueueDepth(depth)
	}
}

// EnqueueBroadcast stages a frame for the writer. A full queue returns
// errSubscriberQueueFull and the frame is discarded.
func (s *subscriber) EnqueueBroadcast(now time.Time, payload []byte) error {
	if s == nil {
		return nil
	}
	frame := outboundFrame{deadline: now.Add(writeWait), payload: payload}
	select {
	case <-s.closed:
		return nil
	case s.queue <- frame:
		s.recordDepth(len(s.queue))
		return nil
	default:
		if s.telemetry != nil {
			s.telemetry.RecordSubscriberQueueDrop(len(s.queue))
		}
		return errSubscriberQueueFull
	}
}

// Write stages a frame and blocks until the queue accepts it. Used for
// direct responses (acks, keyframes) that must not be dropped.
func (s *subscriber) Write(payload []byte) error {
	if s == nil {
		return nil
	}
	frame := outboundFrame{deadline: time.Now().Add(writeWait), payload: payload}
	select {
	case <-s.closed:
		return errors.New("subscriber closed")
	case s.queue <- frame:
		s.recordDepth(len(s.queue))
		return nil
	}
}

func (s *subscriber) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case frame := <-s.queue:
			s.mu.Lock()
			s.conn.SetWriteDeadline(frame.deadline)
			err := s.conn.Write(frame.payload)
			s.mu.Unlock()
			s.recordDepth(len(s.queue))
			if err != nil {
				s.Close()
				return
			}
		}
	}
}

// markVisible records that the subscriber currently sees the entity.
func (s *subscriber) markVisible(entityID string) {
	s.visMu.Lock()
	if s.lastVisible == nil {
		s.lastVisible = make(map[string]struct{})
	}
	s.lastVisible[entityID] = struct{}{}
	s.visMu.Unlock()
}

// clearVisible reports whether the entity was visible on the previous frame
// and forgets it, so a vanishing entity is emitted exactly once more.
func (s *subscriber) clearVisible(entityID string) bool {
	s.visMu.Lock()
	defer s.visMu.Unlock()
	if _, ok := s.lastVisible[entityID]; ok {
		delete(s.lastVisible, entityID)
		return true
	}
	return false
}

// Close stops the writer and closes the transport. Safe to call repeatedly.
func (s *subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}
