/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger service. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (cobra)
  2. Load configuration (file + LEDGER_* environment)
  3. Open the SQLite-backed ledger
  4. Start the AMQP publisher when configured
  5. Start HTTP server and roll-forward scheduler
  6. Shut down gracefully on SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections (15s drain)
  2. Stop the roll-forward scheduler
  3. Close the ledger (final flush, workers drained)

EXAMPLES:
  # Run with file database
  ./server --config=./ledger.toml

  # Override the listen address
  LEDGER_SERVER_ADDR=:3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration schema
  - ledger/store.go: The ledger core
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-core/api"
	"github.com/warp/ledger-core/config"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/logging"
	amqpnotify "github.com/warp/ledger-core/notify/amqp"
	"github.com/warp/ledger-core/store/sqlite"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ledger-server",
	Short: "Transaction ledger service",
	Long: `Ledger Server keeps accounts, transactions and recurring series,
derives balances and aggregates from them, and serves both over a REST API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file (optional)")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	opts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithConverter(ledger.NewCachingConverter(rateTable(cfg.Ledger.Rates))),
		ledger.WithHorizonMonths(cfg.Ledger.HorizonMonths),
		ledger.WithRetryInterval(cfg.Store.RetryInterval),
	}

	if cfg.AMQP.URL != "" {
		pub, err := amqpnotify.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue)
		if err != nil {
			return fmt.Errorf("connect AMQP: %w", err)
		}
		defer pub.Close()
		opts = append(opts, ledger.WithNotifier(pub))
		log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("AMQP publishing enabled")
	}

	led, err := ledger.Open(context.Background(), store, opts...)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	handler := api.NewHandler(led, cfg.Ledger.DefaultCurrency, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewRollForwardScheduler(led, log)
	scheduler.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	scheduler.Stop()
	if closeErr := led.Close(); closeErr != nil {
		log.Error().Err(closeErr).Msg("final flush failed")
		if err == nil {
			err = closeErr
		}
	}

	log.Info().Msg("server stopped")
	return err
}

func rateTable(rates map[string]float64) ledger.RateTable {
	rt := ledger.RateTable{Rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, rate := range rates {
		rt.Rates[pair] = decimal.NewFromFloat(rate)
	}
	return rt
}
