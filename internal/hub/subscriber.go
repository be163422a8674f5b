package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/adwd/internal/log"
)

const (
	// pingInterval is how often the pump pings an idle connection.
	pingInterval = 20 * time.Second

	// pongWait is how long a connection may go without a pong (or any
	// other client frame) before the read loop declares it dead.
	pongWait = 60 * time.Second

	// writeWait bounds every outbound write.
	writeWait = 10 * time.Second
)

// Subscriber is one live WebSocket client listening on a single topic. Frames
// queue in a bounded drop-oldest ring; a dedicated pump goroutine is the only
// writer on the connection. Clients are passive: the read loop exists purely
// to notice disconnects and keep the pong clock running, application messages
// from the client are discarded.
type Subscriber struct {
	topic Topic
	conn  *websocket.Conn
	ring  *frameRing

	// notify wakes the pump; capacity 1 because the pump drains the whole
	// ring on every wake.
	notify chan struct{}

	maxFailures int
	failures    int // consecutive failed writes, pump-local

	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Subscriber)
}

// newSubscriber wires a subscriber around an upgraded connection.
func newSubscriber(topic Topic, conn *websocket.Conn, queueSize, maxFailures int, onClose func(*Subscriber)) *Subscriber {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Subscriber{
		topic:       topic,
		conn:        conn,
		ring:        newFrameRing(queueSize),
		notify:      make(chan struct{}, 1),
		maxFailures: maxFailures,
		done:        make(chan struct{}),
		onClose:     onClose,
	}
}

// Topic returns the topic this subscriber listens on.
func (s *Subscriber) Topic() Topic {
	return s.topic
}

// Enqueue queues a frame for delivery. Never blocks; when the ring is full
// the oldest undelivered frame is dropped.
func (s *Subscriber) Enqueue(f Frame) {
	select {
	case <-s.done:
		return
	default:
	}

	if s.ring.Push(f) {
		log.Debug(log.CatHub, "slow subscriber dropped frame",
			"topic", string(s.topic), "dropped_total", s.ring.Dropped())
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// start launches the pump and the liveness read loop.
func (s *Subscriber) start() {
	log.SafeGo("hub-pump-"+string(s.topic), s.pump)
	log.SafeGo("hub-read-"+string(s.topic), s.readLoop)
}

// pump is the single connection writer: it drains the ring, pings on idle,
// and closes the subscriber after maxFailures consecutive failed writes.
func (s *Subscriber) pump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
			for {
				frame, ok := s.ring.Pop()
				if !ok {
					break
				}
				if !s.write(frame) {
					return
				}
			}
		case <-ticker.C:
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				log.Debug(log.CatHub, "ping failed, closing subscriber",
					"topic", string(s.topic), "error", err)
				s.Close()
				return
			}
		}
	}
}

// write sends one frame, tracking consecutive failures. Reports whether the
// pump should keep running.
func (s *Subscriber) write(frame Frame) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.failures++
		log.Debug(log.CatHub, "send failed",
			"topic", string(s.topic), "consecutive", s.failures, "error", err)
		if s.failures >= s.maxFailures {
			s.Close()
			return false
		}
		return true
	}
	s.failures = 0
	return true
}

// readLoop consumes the client side of the connection for liveness only.
// Blocking here is correct: this goroutine exists so the pump never has to
// read, and so a closed or silent peer is detected promptly.
func (s *Subscriber) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			log.Debug(log.CatHub, "subscriber disconnected",
				"topic", string(s.topic), "error", err)
			s.Close()
			return
		}
		// Clients are not expected to send application data; whatever
		// arrived still proves the peer is alive.
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// Close tears the connection down and removes the subscriber from its hub.
// Safe to call from any goroutine, any number of times.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}
