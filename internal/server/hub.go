package server

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/roach88/grove/internal/event"
)

const (
	// peerBuffer is how many events may wait for a slow subscriber before
	// it is disconnected.
	peerBuffer = 64

	// writeTimeout bounds one frame write to a subscriber.
	writeTimeout = 10 * time.Second
)

// frameWriter is the part of a websocket connection a peer writes to.
type frameWriter interface {
	io.Writer
	SetWriteDeadline(t time.Time) error
}

// peer is one realtime subscriber connection. publish only ever queues onto
// out; writeLoop owns the connection's write side.
type peer struct {
	out       chan event.Event
	closeOnce sync.Once
	closeConn func()
}

func newPeer(buffer int, closeConn func()) *peer {
	return &peer{out: make(chan event.Event, buffer), closeConn: closeConn}
}

// offer queues e without blocking. It reports false when the buffer is full.
func (p *peer) offer(e event.Event) bool {
	select {
	case p.out <- e:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(p.closeConn)
}

// writeLoop writes queued events, one JSON event per frame, until done is
// closed or a write fails. A failed or timed-out write closes the connection.
func (p *peer) writeLoop(w frameWriter, done <-chan struct{}) {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-done:
			return
		case e := <-p.out:
			if err := w.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				p.close()
				return
			}
			if err := enc.Encode(e); err != nil {
				p.close()
				return
			}
		}
	}
}

// hub fans newly accepted events out to every subscriber of the same owner.
type hub struct {
	mu     sync.Mutex
	owners map[string]map[*peer]struct{}
}

func newHub() *hub {
	return &hub{owners: make(map[string]map[*peer]struct{})}
}

func (h *hub) join(owner string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.owners[owner]
	if !ok {
		peers = make(map[*peer]struct{})
		h.owners[owner] = peers
	}
	peers[p] = struct{}{}
}

func (h *hub) leave(owner string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.owners[owner]
	delete(peers, p)
	if len(peers) == 0 {
		delete(h.owners, owner)
	}
}

func (h *hub) subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.owners[owner])
}

// publish queues events for owner's subscribers and never waits on a
// connection. A peer that has fallen peerBuffer events behind is dropped and
// disconnected; it recovers what it missed with its next pull.
func (h *hub) publish(owner string, events []event.Event) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.owners[owner]))
	for p := range h.owners[owner] {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		for _, e := range events {
			if !p.offer(e) {
				h.leave(owner, p)
				p.close()
				break
			}
		}
	}
}
