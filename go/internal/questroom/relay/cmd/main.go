package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/questroom/go/internal/questroom/config"
	"github.com/mcdev12/questroom/go/internal/questroom/relay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := relay.NewHub()

	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		pool, err = pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create database pool")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		log.Info().Str("database", cfg.Database.Database).Msg("connected to database")
	}

	var membership relay.Membership = relay.AllowAll{}
	if cfg.Relay.VerifyMembership {
		membership = relay.NewPGMembership(pool)
	}

	var broadcaster relay.Broadcaster = hub
	var jetStream *relay.JetStreamBroadcaster
	if cfg.NATS.Enabled {
		jsCfg := relay.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.Stream

		jetStream, err = relay.NewJetStreamBroadcaster(hub, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect JetStream broadcaster")
		}
		defer jetStream.Close()
		broadcaster = jetStream

		go func() {
			if err := jetStream.Start(ctx); err != nil {
				log.Error().Err(err).Msg("JetStream consumer failed")
			}
		}()
	}

	var listener *relay.Listener
	if cfg.Database.Enabled && cfg.Relay.ListenChannel != "" {
		lcfg := relay.DefaultListenerConfig()
		lcfg.DatabaseURL = cfg.Database.DSN()
		lcfg.NotifyChannel = cfg.Relay.ListenChannel

		listener, err = relay.NewListener(broadcaster, lcfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start database listener")
		}
		go func() {
			if err := listener.Start(ctx); err != nil {
				log.Error().Err(err).Msg("database listener failed")
			}
		}()
	}

	health := healthChecker(hub, jetStream, listener)

	relayCfg := relay.DefaultConfig()
	relayCfg.AllowedOrigins = cfg.Relay.AllowedOrigins
	relayCfg.PollWait = cfg.Relay.PollWait
	relayCfg.PollIdleTimeout = cfg.Relay.PollIdleTimeout

	server := relay.NewServer(relayCfg, hub, membership, broadcaster, clockwork.NewRealClock())
	go server.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Relay.Addr,
		Handler:           h2c.NewHandler(server.Routes(health), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Bool("nats", cfg.NATS.Enabled).
			Bool("verify_membership", cfg.Relay.VerifyMembership).
			Msg("relay server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("relay shutdown complete")
}

// healthChecker wires only the parts that are configured.
func healthChecker(hub *relay.Hub, js *relay.JetStreamBroadcaster, l *relay.Listener) *relay.HealthChecker {
	switch {
	case js != nil && l != nil:
		return relay.NewHealthChecker(hub, js, l)
	case js != nil:
		return relay.NewHealthChecker(hub, js, nil)
	case l != nil:
		return relay.NewHealthChecker(hub, nil, l)
	default:
		return relay.NewHealthChecker(hub, nil, nil)
	}
}
