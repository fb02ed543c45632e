package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

// Outbound is one encoded frame addressed to every peer of a room.
type Outbound struct {
	EventID     string
	Event       events.Name
	RoomID      string
	Frame       []byte
	ExcludePeer string
}

// Broadcaster fans a frame out to a room, locally or across relay instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, out Outbound) error
}

// Stats is a point-in-time count of the hub.
type Stats struct {
	Peers int            `json:"peers"`
	Rooms int            `json:"rooms"`
	Room  map[string]int `json:"room_peers"`
}

// Hub tracks connected peers and the rooms they joined. It delivers to local peers
// only and is itself the Broadcaster of a single-instance relay.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	rooms map[string]map[*Peer]bool

	broadcastCh chan Outbound
}

func NewHub() *Hub {
	return &Hub{
		peers:       make(map[string]*Peer),
		rooms:       make(map[string]map[*Peer]bool),
		broadcastCh: make(chan Outbound, 1000),
	}
}

// Start delivers queued broadcasts until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("relay hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay hub shutting down")
			return
		case out := <-h.broadcastCh:
			h.deliver(out)
		}
	}
}

// Broadcast queues out for local delivery.
func (h *Hub) Broadcast(_ context.Context, out Outbound) error {
	select {
	case h.broadcastCh <- out:
		return nil
	default:
		log.Warn().Str("room_id", out.RoomID).Msg("broadcast channel full, dropping message")
		return errBroadcastFull
	}
}

func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.ID] = p

	log.Debug().
		Str("peer_id", p.ID).
		Str("transport", p.Transport).
		Int("total_peers", len(h.peers)).
		Msg("peer registered")
}

// Unregister drops the peer and returns the membership it held, if any.
func (h *Hub) Unregister(p *Peer) (Member, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p.ID]; !ok {
		return Member{}, false
	}
	delete(h.peers, p.ID)
	m, ok := h.leaveLocked(p)

	log.Info().
		Str("peer_id", p.ID).
		Str("transport", p.Transport).
		Msg("peer unregistered")
	return m, ok
}

// Join binds p to m.RoomID. A peer belongs to one room at a time; the previous
// membership is returned when it changed rooms.
func (h *Hub) Join(p *Peer, m Member) (Member, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var prev Member
	var moved bool
	if p.member != nil && p.member.RoomID != m.RoomID {
		prev, moved = h.leaveLocked(p)
	}

	member := m
	p.member = &member
	if h.rooms[m.RoomID] == nil {
		h.rooms[m.RoomID] = make(map[*Peer]bool)
	}
	h.rooms[m.RoomID][p] = true

	log.Info().
		Str("peer_id", p.ID).
		Str("user_id", m.UserID).
		Str("room_id", m.RoomID).
		Int("room_peers", len(h.rooms[m.RoomID])).
		Msg("peer joined room")
	return prev, moved
}

// Leave removes p from its room.
func (h *Hub) Leave(p *Peer) (Member, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(p)
}

func (h *Hub) leaveLocked(p *Peer) (Member, bool) {
	if p.member == nil {
		return Member{}, false
	}
	m := *p.member
	p.member = nil
	if peers, ok := h.rooms[m.RoomID]; ok {
		delete(peers, p)
		if len(peers) == 0 {
			delete(h.rooms, m.RoomID)
		}
	}
	return m, true
}

// MemberOf returns the membership of p.
func (h *Hub) MemberOf(p *Peer) (Member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p.member == nil {
		return Member{}, false
	}
	return *p.member, true
}

// Online lists the connected members of a room ordered by user then session.
func (h *Hub) Online(roomID string) []events.OnlineMember {
	h.mu.RLock()
	out := make([]events.OnlineMember, 0, len(h.rooms[roomID]))
	for p := range h.rooms[roomID] {
		out = append(out, events.OnlineMember{
			UserID:    p.member.UserID,
			UserName:  p.member.UserName,
			SessionID: p.ID,
		})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// CloseAll closes every registered peer. Pumps unregister them as they exit.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.Close()
	}
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Peers: len(h.peers), Rooms: len(h.rooms), Room: make(map[string]int, len(h.rooms))}
	for id, peers := range h.rooms {
		s.Room[id] = len(peers)
	}
	return s
}

func (h *Hub) deliver(out Outbound) {
	h.mu.RLock()
	targets := make([]*Peer, 0, len(h.rooms[out.RoomID]))
	for p := range h.rooms[out.RoomID] {
		if p.ID == out.ExcludePeer {
			continue
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		if !p.Enqueue(out.Frame) {
			// Slow or dead peer. Its pump notices Done and unregisters it.
			log.Warn().
				Str("peer_id", p.ID).
				Str("transport", p.Transport).
				Msg("peer send buffer full, closing peer")
			p.Close()
		}
	}

	log.Debug().
		Str("event", string(out.Event)).
		Str("room_id", out.RoomID).
		Int("peers", len(targets)).
		Msg("event broadcasted")
}
