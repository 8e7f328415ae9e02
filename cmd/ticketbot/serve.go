package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticketbot/internal/api/http"
	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
	slackplatform "github.com/spec-kit/ticketbot/internal/platform/slack"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Slack gateway and the sweep scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg, logger := rt.cfg, rt.logger

			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
			deps := map[string]handlers.Pinger{"store": rt.store.Ping}
			if rt.redis != nil {
				deps["redis"] = rt.redis.Ping
			}
			app := httptransport.NewApp(cfg.App.Name, httptransport.RouteConfig{
				Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
				Tickets:        handlers.NewTicketsHandler(rt.lifecycle),
				Channels:       handlers.NewChannelsHandler(rt.lifecycle),
				Config:         handlers.NewConfigHandler(rt.lifecycle),
				Metrics:        rt.metrics,
				AuthMiddleware: auth.NewAuthMiddleware(tokens, rt.platform, logger),
			}, httptransport.MiddlewareDeps{Logger: logger, Timeout: cfg.App.RequestTimeout()})

			errCh := make(chan error, 2)
			go func() {
				logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
				if err := app.Listen(cfg.App.Addr()); err != nil {
					errCh <- err
				}
			}()

			if cfg.Slack.Enabled() {
				gateway := slackplatform.NewGateway(rt.slackAPI, rt.platform, rt.lifecycle, logger)
				go func() {
					if err := gateway.Run(ctx); err != nil {
						errCh <- err
					}
				}()
			} else {
				logger.Info("SLACK_APP_TOKEN not set; Socket Mode gateway disabled")
			}

			schedulerDone := make(chan struct{})
			if cfg.Scheduler.Enabled {
				scheduler := rt.scheduler()
				go func() {
					defer close(schedulerDone)
					scheduler.Run(ctx)
				}()
			} else {
				close(schedulerDone)
			}

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case runErr = <-errCh:
				logger.Error("component failed", zap.Error(runErr))
			}
			cancel()

			if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			<-schedulerDone
			return runErr
		},
	}
}
