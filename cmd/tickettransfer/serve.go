package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	v1 "github.com/goatkit/tickettransfer/internal/api/v1"
	"github.com/goatkit/tickettransfer/internal/cache"
	"github.com/goatkit/tickettransfer/internal/middleware"
	"github.com/goatkit/tickettransfer/internal/runner"
	"github.com/goatkit/tickettransfer/internal/runner/tasks"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the transfer API and run background tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := rootCtx
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		limiter := middleware.NewRateLimiter(time.Hour)
		r, err := buildRunner(ctx, a, limiter)
		if err != nil {
			return err
		}
		r.Start()

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		api := v1.NewAPIRouter(v1.Deps{
			Transfers:   a.transferService(a.timeoutLogs),
			History:     a.history,
			Configs:     a.configs,
			TimeoutLogs: a.timeoutLogs,
			Runner:      r,
		},
			v1.WithLogger(log),
			v1.WithMetrics(),
			v1.WithAPIKeys(cfg.Server.APIKeys),
			v1.WithTransferRateLimit(limiter, cfg.Server.TransferRateLimit),
		)

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := &http.Server{Addr: addr, Handler: api.NewEngine(), ReadHeaderTimeout: 10 * time.Second}

		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", addr).Info("listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		return r.Stop(shutdownCtx)
	},
}

// buildRunner registers the enabled background tasks. Task status goes to
// redis when an address is configured.
func buildRunner(ctx context.Context, a *app, limiter *middleware.RateLimiter) (*runner.Runner, error) {
	opts := []runner.Option{runner.WithLogger(log)}
	client, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, keeping task status in memory")
	} else if client != nil {
		opts = append(opts, runner.WithStatusStore(cache.NewRedisStatusStore(client, "", 0)))
	}

	r := runner.New(opts...)
	if cfg.Runner.TimeoutLogCleanup.Enabled {
		if err := r.Register(tasks.NewTimeoutLogCleanupTask(a.db, log)); err != nil {
			return nil, err
		}
	}
	if err := r.Register(tasks.NewRateLimitPruneTask(limiter, log)); err != nil {
		return nil, err
	}
	return r, nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}
