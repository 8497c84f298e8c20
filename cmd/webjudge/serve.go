package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/webjudge/api/handlers"
	"github.com/BaSui01/webjudge/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, true)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.HTTPPort = port
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			logger.Info("starting WebJudge",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			app, err := newApplication(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Warn("shutdown cleanup failed", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the HTTP port")
	return cmd
}

// routes 注册全部 HTTP 路由并套上中间件链
func (a *application) routes(ctx context.Context) (http.Handler, error) {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(a.logger)
	if a.db != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", a.db.Ping))
	}
	if a.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", a.redis.Ping))
	}
	health.Register(mux, Version, BuildTime, GitCommit)

	evalHandler := handlers.NewEvaluationHandler(a.evaluator, a.evaluator.Store(), a.cfg.Server.MaxBodyBytes, a.logger)
	evalHandler.Register(mux)

	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	cors, err := CORS(a.cfg.CORS)
	if err != nil {
		return nil, err
	}

	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(a.logger),
		MetricsMiddleware(a.collector),
		cors,
		RateLimiter(ctx, a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, a.logger),
	), nil
}

// serve 启动 HTTP 服务并阻塞到 ctx 取消或服务出错
func (a *application) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler, err := a.routes(ctx)
	if err != nil {
		return err
	}

	sc := a.cfg.Server
	mgr := server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     2 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, a.logger)

	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.logger.Info("HTTP server started", zap.String("addr", mgr.Addr()))

	err = mgr.Wait(ctx)
	a.logger.Info("WebJudge stopped")
	return err
}
