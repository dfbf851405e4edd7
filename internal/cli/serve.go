package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fmuoria/cv-triage/internal/api"
	"github.com/fmuoria/cv-triage/internal/notify"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := load()
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, runtimeOptions{withModel: true, withInbox: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			// Any record change, including those from other instances, drops
			// cached pipeline results.
			sub, err := rt.agent.Watch(ctx, func(e notify.Event) {
				log.Debug().Str("type", string(e.Type)).Str("id", e.RecordID).Msg("Record changed")
				rt.cache.Clear()
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			server := api.NewServer(rt.agent, rt.settings, rt.settingsPath)
			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Port).Msg("Starting CV triage server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
