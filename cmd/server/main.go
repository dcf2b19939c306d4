// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"

	"github.com/shahabrez/Callroulette/internal/api/webhook"
	"github.com/shahabrez/Callroulette/internal/app/flow"
	"github.com/shahabrez/Callroulette/internal/app/matchmaker"
	"github.com/shahabrez/Callroulette/internal/domain/call"
	"github.com/shahabrez/Callroulette/internal/infra/config"
	"github.com/shahabrez/Callroulette/internal/infra/gateway"
	"github.com/shahabrez/Callroulette/internal/infra/locator"
	"github.com/shahabrez/Callroulette/internal/infra/logger"
	"github.com/shahabrez/Callroulette/internal/infra/metrics"
	"github.com/shahabrez/Callroulette/internal/infra/store"
)

var (
	app        = kingpin.New("callroulette-server", "Anonymous call roulette server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// pair-once command: run a single matchmaker pass and exit
	pairOnceCmd = app.Command("pair-once", "Run one matchmaker pass and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg, command == pairOnceCmd.FullCommand()); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run wires the components and executes the requested command.
func run(cfg *config.Config, pairOnce bool) error {
	ctx := context.Background()

	repo, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer cleanup()

	gw, err := gateway.New(gateway.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	loc, err := locator.NewFromConfig(cfg.Locator)
	if err != nil {
		return fmt.Errorf("failed to create locator: %w", err)
	}

	machine := flow.New()
	locks := flow.NewSessionLocks()
	scripter := flow.NewScripter(gw, partnerLabel(repo, loc), flow.ScripterConfig{
		HoldMusic: cfg.HoldMusic,
		Messages: flow.Messages{
			Greeting:       cfg.Messages.Greeting,
			WaitingGoodbye: cfg.Messages.WaitingGoodbye,
			TimedOut:       cfg.Messages.TimedOut,
			TalkingTo:      cfg.Messages.TalkingTo,
			Failure:        cfg.Messages.Failure,
		},
		Seed: cfg.Matchmaker.Seed,
	})
	svc := flow.NewService(repo, machine, scripter, locks)
	mm := matchmaker.New(repo, machine, gw, locks, matchmaker.Config{
		MaxWait:     cfg.Matchmaker.MaxWait(),
		PassTimeout: cfg.Matchmaker.PassTimeout(),
		Seed:        cfg.Matchmaker.Seed,
	})

	if pairOnce {
		return mm.Run(ctx)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: webhook.NewRouter(svc, loc),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Periodic matchmaker passes
	mmCtx, mmCancel := context.WithCancel(ctx)
	defer mmCancel()
	go func() {
		ticker := time.NewTicker(cfg.Matchmaker.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-mmCtx.Done():
				return
			case <-ticker.C:
				if err := mm.Run(mmCtx); err != nil {
					zlog.Error().Msgf("Matchmaker pass failed: %v", err)
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	mmCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// openStore opens the configured record store.
func openStore(ctx context.Context, cfg *config.Config) (store.Repository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// partnerLabel resolves a session id to a caller display label for the
// in-conference announcement. Lookup failures fall back to the generic
// label and never propagate.
func partnerLabel(repo store.Repository, loc locator.Locator) flow.LabelFunc {
	return func(ctx context.Context, sessionID string) string {
		s, err := repo.Get(ctx, sessionID)
		if err != nil {
			zlog.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load partner for label")
			return loc.Label(&call.Session{})
		}
		return loc.Label(s)
	}
}
