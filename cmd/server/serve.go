package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"horse-wager/internal/api"
	"horse-wager/internal/db"
	"horse-wager/internal/engine"
	"horse-wager/internal/logging"
	"horse-wager/internal/memstore"
	"horse-wager/internal/notify"
	"horse-wager/internal/ws"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.Component("main")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ec, err := cfg.Engine()
			if err != nil {
				return err
			}

			var (
				ledger  engine.LedgerStore
				history engine.HistoryStore
				tx      engine.TxRunner
				pinger  api.Pinger
			)
			switch cfg.StoreDriver {
			case "postgres":
				if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
					return err
				}
				log.Info().Msg("migrations applied")

				store, err := db.Open(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer store.Close()
				log.Info().Msg("connected to database")
				ledger, history, tx, pinger = store, store, store, store
			default:
				store := memstore.New()
				ledger, history, tx = store, store, store
				log.Warn().Msg("using in-memory store; balances are lost on restart")
			}

			hub := ws.NewHub()

			// With redis, every instance relays the shared channel into its
			// local hub, so the engine publishes to redis only.
			var bus engine.EventBus = hub
			if cfg.RedisAddr != "" {
				rdb := notify.NewRedisClient(cfg.RedisAddr)
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping: %w", err)
				}
				rb := notify.NewRedisBus(rdb, cfg.RedisChannel)
				bus = rb
				go func() {
					if err := rb.Relay(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
						log.Error().Err(err).Msg("redis relay stopped")
					}
				}()
				log.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("redis fan-out enabled")
			}

			eng := engine.NewEngine(ec, ledger, history, bus, tx)
			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           api.NewServer(eng, hub, pinger, cfg.JWTSecret).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != "postgres" {
				return fmt.Errorf("migrate needs STORE_DRIVER=postgres")
			}
			if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
				return err
			}
			printSuccess("migrations applied")
			return nil
		},
	}
}
