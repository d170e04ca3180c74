package transport

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// DefaultSendBuffer is the number of frames queued per connection.
const DefaultSendBuffer = 16

// ErrUnknownConnection is returned by Send for an id that is not open.
var ErrUnknownConnection = errors.New("unknown connection")

type peer struct {
	id     string
	send   chan []byte
	closer io.Closer
}

// Hub tracks open connections and fans frames out to them.
//
// Thread-safety: all methods are safe for concurrent use. Sends never block;
// a frame for a connection whose buffer is full is dropped.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]*peer
	buffer int
	logger *slog.Logger
}

// NewHub creates an empty hub. A non-positive buffer uses DefaultSendBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{peers: make(map[string]*peer), buffer: buffer, logger: logger}
}

// add registers a connection and returns its outbound queue.
func (h *Hub) add(id string, closer io.Closer) <-chan []byte {
	p := &peer{id: id, send: make(chan []byte, h.buffer), closer: closer}
	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()
	return p.send
}

// remove unregisters a connection and closes its queue.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.peers[id]; ok {
		delete(h.peers, id)
		close(p.send)
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Broadcast queues a frame for every connection and returns how many
// accepted it.
func (h *Hub) Broadcast(event string, data any) int {
	msg, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("broadcast dropped", "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, p := range h.peers {
		if h.enqueue(p, event, msg) {
			n++
		}
	}
	return n
}

// Send queues a frame for one connection. A full buffer drops the frame
// without error.
func (h *Hub) Send(conn, event string, data any) error {
	msg, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[conn]
	if !ok {
		return ErrUnknownConnection
	}
	h.enqueue(p, event, msg)
	return nil
}

// CloseAll closes every underlying connection. Readers see an error and
// unwind through their normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	closers := make([]io.Closer, 0, len(h.peers))
	for _, p := range h.peers {
		closers = append(closers, p.closer)
	}
	h.mu.RUnlock()

	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}

func (h *Hub) enqueue(p *peer, event string, msg []byte) bool {
	select {
	case p.send <- msg:
		return true
	default:
		h.logger.Debug("send buffer full, frame dropped", "conn", p.id, "event", event)
		return false
	}
}
