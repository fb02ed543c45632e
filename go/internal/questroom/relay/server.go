package relay

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

// Config holds relay connection settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	PollWait        time.Duration
	PollIdleTimeout time.Duration
	AllowedOrigins  []string
}

// DefaultConfig returns default relay configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    25 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		PollWait:        25 * time.Second,
		PollIdleTimeout: 60 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// Server is the room relay: it accepts peers, executes their commands and fans
// room events out through the Broadcaster.
type Server struct {
	config      Config
	hub         *Hub
	membership  Membership
	broadcaster Broadcaster
	clock       clockwork.Clock
	upgrader    websocket.Upgrader
	polls       *pollStore
}

// NewServer creates a relay server. broadcaster may be the hub itself.
func NewServer(config Config, hub *Hub, membership Membership, broadcaster Broadcaster, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		config:      config,
		hub:         hub,
		membership:  membership,
		broadcaster: broadcaster,
		clock:       clock,
		polls:       newPollStore(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Start runs the hub and the idle poll reaper until ctx is done.
func (s *Server) Start(ctx context.Context) {
	log.Info().Msg("starting relay server")

	go s.hub.Start(ctx)
	go s.reapPolls(ctx)

	<-ctx.Done()
	s.hub.CloseAll()
	for _, p := range s.polls.all() {
		s.disconnect(p)
	}
	log.Info().Msg("relay server stopped")
}

// Hub returns the local hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes returns the relay HTTP handler. health may be nil.
func (s *Server) Routes(health http.Handler) http.Handler {
	r := chi.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	})
	r.Use(c.Handler)

	r.Get("/ws", s.handleWebSocket)
	r.Route("/poll", func(r chi.Router) {
		r.Post("/", s.handlePollOpen)
		r.Get("/{sid}", s.handlePollRead)
		r.Post("/{sid}", s.handlePollWrite)
		r.Delete("/{sid}", s.handlePollClose)
	})
	if health != nil {
		r.Handle("/health", health)
	}
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}

// disconnect closes p and tells the room it left.
func (s *Server) disconnect(p *Peer) {
	p.Close()
	s.polls.remove(p.ID)

	m, ok := s.hub.Unregister(p)
	if !ok || m.RoomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.broadcast(ctx, p, events.MemberLeft, m.RoomID, events.MemberPayload{
		UserID:    m.UserID,
		UserName:  m.UserName,
		SessionID: p.ID,
	}, "")
}
