package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/labelverify-worker/internal/bootstrap"
	"github.com/adverant/nexus/labelverify-worker/internal/logging"
	"github.com/adverant/nexus/labelverify-worker/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var withQueue bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := ctx.ensureComponents(cmd)
			if err != nil {
				return err
			}
			cfg := components.Config
			if addr == "" {
				addr = cfg.HTTPAddr
			}

			opts := server.Options{
				Verifier:      components.Processor,
				Batch:         components.Batch,
				BatchOptions:  bootstrap.BatchOptions(cfg),
				ArchiveLimits: bootstrap.ArchiveLimits(cfg),
				EngineName:    components.Engine.Name(),
			}
			if withQueue {
				if err := cfg.ValidateQueue(); err != nil {
					return err
				}
				enqueuer, err := newEnqueuer(cfg)
				if err != nil {
					return err
				}
				defer enqueuer.Close()
				opts.Queue = enqueuer
			}

			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			if cfg.AppEnv == "production" {
				gin.SetMode(gin.ReleaseMode)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger := logging.NewLogger("Serve")
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Listening", "addr", addr, "engine", opts.EngineName, "queue", withQueue)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			case <-runCtx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default HTTP_ADDR)")
	cmd.Flags().BoolVar(&withQueue, "queue", false, "Enable /api/jobs endpoints backed by the Redis queue")

	return cmd
}
