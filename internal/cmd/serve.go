package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wesheets/promethios-sub018/internal/learning"
	"github.com/wesheets/promethios-sub018/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the learning node: scheduled cycles plus the ops HTTP API",
	Long: `Starts the long-running learning node. Cycles fire on the configured
cron schedule (PROMETHIOS_CYCLE_SCHEDULE, default every 15 minutes) and
the ops API serves health, integrity, patterns, adaptations, learning
state, manual cycle triggering, and confidence scoring.

Memory snapshots are persisted after every cycle and on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "cmd.serve")
		defer span.End()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		scheduler, err := learning.NewScheduler(a.cfg.CycleSchedule, a.controller)
		if err != nil {
			return err
		}

		srv := server.NewServer(a.store, a.controller, a.engine, a.scorer,
			server.WithAPIKey(a.cfg.APIKey),
			server.WithAnalytics(a.analytics),
		)
		httpSrv := &http.Server{
			Addr:              a.cfg.ListenAddr,
			Handler:           srv.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", a.cfg.ListenAddr).Msg("ops API listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		scheduler.Start()
		log.Info().Str("schedule", a.cfg.CycleSchedule).Msg("cycle scheduler started")

		// Persist sealed snapshots and flush analytics in the background
		// so a crash loses at most one interval of state.
		persistDone := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					a.store.Persist(ctx)
					a.analytics.Flush(ctx)
				case <-persistDone:
					return
				}
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			close(persistDone)
			scheduler.Stop()
			return err
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		close(persistDone)
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown did not finish cleanly")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
