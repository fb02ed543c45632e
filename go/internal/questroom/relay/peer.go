package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Member is the room membership bound to a peer after join_room.
type Member struct {
	UserID   string
	UserName string
	RoomID   string
	RoomName string
}

// Peer is one client connection, websocket or polling.
type Peer struct {
	ID          string
	Transport   string
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSeen  atomic.Int64

	// guarded by Hub.mu
	member *Member
}

func newPeer(transport string, buffer int, now time.Time) *Peer {
	p := &Peer{
		ID:          uuid.New().String(),
		Transport:   transport,
		ConnectedAt: now,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
	p.touch(now)
	return p
}

// Enqueue queues a frame for the peer without blocking. It reports false when the
// peer is closed or its buffer is full.
func (p *Peer) Enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// Close marks the peer closed. Pumps observe Done and exit.
func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) touch(now time.Time) {
	p.lastSeen.Store(now.UnixNano())
}

func (p *Peer) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, p.lastSeen.Load()))
}
