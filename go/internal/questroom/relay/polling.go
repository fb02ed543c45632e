package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const transportPolling = "polling"

type pollStore struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func newPollStore() *pollStore {
	return &pollStore{peers: make(map[string]*Peer)}
}

func (ps *pollStore) add(p *Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.peers[p.ID] = p
}

func (ps *pollStore) get(id string) (*Peer, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.peers[id]
	return p, ok
}

func (ps *pollStore) remove(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, id)
}

func (ps *pollStore) all() []*Peer {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	return out
}

func (s *Server) handlePollOpen(w http.ResponseWriter, r *http.Request) {
	p := newPeer(transportPolling, s.config.SendBuffer, s.clock.Now())
	s.hub.Register(p)
	s.polls.add(p)

	log.Info().
		Str("peer_id", p.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("polling session opened")
	writeJSON(w, http.StatusOK, map[string]string{"sid": p.ID})
}

// handlePollRead long-polls for queued frames and returns them as a JSON array.
func (s *Server) handlePollRead(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pollPeer(w, r)
	if !ok {
		return
	}
	p.touch(s.clock.Now())
	defer p.touch(s.clock.Now())

	wait := s.config.PollWait
	if ms, err := strconv.Atoi(r.URL.Query().Get("wait")); err == nil && ms >= 0 {
		wait = min(time.Duration(ms)*time.Millisecond, s.config.PollWait)
	}

	timer := s.clock.NewTimer(wait)
	defer timer.Stop()

	frames := make([]json.RawMessage, 0, 8)
	select {
	case frame := <-p.send:
		frames = append(frames, frame)
	case <-p.Done():
		http.Error(w, "poll session closed", http.StatusNotFound)
		return
	case <-r.Context().Done():
		return
	case <-timer.Chan():
	}
drain:
	for {
		select {
		case frame := <-p.send:
			frames = append(frames, frame)
		default:
			break drain
		}
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handlePollWrite(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pollPeer(w, r)
	if !ok {
		return
	}
	p.touch(s.clock.Now())

	frame, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxMessageSize))
	if err != nil {
		http.Error(w, "failed to read frame", http.StatusBadRequest)
		return
	}
	s.handleFrame(r.Context(), p, frame)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pollPeer(w, r)
	if !ok {
		return
	}
	s.disconnect(p)
	log.Info().Str("peer_id", p.ID).Msg("polling session closed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pollPeer(w http.ResponseWriter, r *http.Request) (*Peer, bool) {
	p, ok := s.polls.get(chi.URLParam(r, "sid"))
	if !ok {
		http.Error(w, "unknown poll session", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

// reapPolls disconnects polling peers that stopped polling or were closed by the hub.
func (s *Server) reapPolls(ctx context.Context) {
	ticker := s.clock.NewTicker(s.config.PollIdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			now := s.clock.Now()
			for _, p := range s.polls.all() {
				closed := false
				select {
				case <-p.Done():
					closed = true
				default:
				}
				if closed || p.idleSince(now) > s.config.PollIdleTimeout {
					log.Info().Str("peer_id", p.ID).Bool("closed", closed).Msg("reaping polling session")
					s.disconnect(p)
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
