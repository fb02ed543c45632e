package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/config"
	"github.com/mcdev12/questroom/go/internal/questroom/gateway"
	"github.com/mcdev12/questroom/go/internal/questroom/session"
	"github.com/mcdev12/questroom/go/internal/questroom/snapshot"
)

// watch joins one room and logs the reconciled view on every change.
func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.Level())

	if cfg.Client.UserID == "" || cfg.Client.RoomID == "" {
		log.Fatal().Msg("USER_ID and ROOM_ID are required")
	}

	clock := clockwork.NewRealClock()
	manager := gateway.NewManager(gateway.DefaultConfig(), clock, transports(cfg.Client)...)
	provider := snapshot.NewHTTPProvider(cfg.Client.APIURL, cfg.Client.SnapshotTimeout)

	sessionCfg := session.DefaultConfig()
	sessionCfg.SnapshotTimeout = cfg.Client.SnapshotTimeout

	identity := models.Identity{UserID: cfg.Client.UserID, RoomID: cfg.Client.RoomID}
	s := session.New(identity, sessionCfg, session.Deps{
		Channel:   manager,
		Snapshots: provider,
		Tasks:     provider,
		Clock:     clock,
	})
	s.SetOnUpdate((&viewLogger{}).log)

	registry := session.NewRegistry()
	if err := registry.Add(s); err != nil {
		log.Fatal().Err(err).Msg("failed to register session")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Join(ctx)
	if _, err := manager.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("initial connect failed, retrying in background")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	registry.LeaveAll()
	manager.Disconnect()
}

func transports(c config.ClientConfig) []gateway.Transport {
	httpURL := strings.Replace(strings.Replace(c.ServerURL, "wss://", "https://", 1), "ws://", "http://", 1)
	wsURL := strings.Replace(strings.Replace(c.ServerURL, "https://", "wss://", 1), "http://", "ws://", 1)

	var out []gateway.Transport
	for _, name := range c.Transports {
		switch name {
		case "websocket":
			out = append(out, gateway.NewWebSocketTransport(gateway.DefaultWebSocketConfig(wsURL+"/ws")))
		case "polling":
			out = append(out, gateway.NewPollingTransport(gateway.DefaultPollingConfig(httpURL)))
		default:
			log.Warn().Str("transport", name).Msg("unknown transport ignored")
		}
	}
	return out
}

// viewLogger logs each notification once. Notifications arrive newest first.
type viewLogger struct {
	lastNotice int64
}

func (l *viewLogger) log(v session.View) {
	host, _ := v.Room.Host()
	ev := log.Info().
		Str("room", v.Room.Room.Name).
		Str("connectivity", string(v.Room.Connectivity)).
		Bool("loading", v.Room.Loading).
		Strs("members", v.Room.MemberIDs()).
		Str("host", host.UserID).
		Int("tasks", len(v.Tasks))
	if v.Room.ActiveRound != nil {
		ev = ev.Str("round", v.Room.ActiveRound.ID)
	}
	ev.Msg("room view")

	for i := len(v.Notifications) - 1; i >= 0; i-- {
		n := v.Notifications[i]
		if n.ID <= l.lastNotice {
			continue
		}
		l.lastNotice = n.ID
		log.Info().Int64("id", n.ID).Str("kind", string(n.Kind)).Msg(n.Message)
	}
	for _, e := range v.Standings {
		log.Info().
			Int("rank", e.Rank).
			Str("user_id", e.UserID).
			Int("score", e.Score).
			Str("source", string(e.Source)).
			Msg("standing")
	}
}
