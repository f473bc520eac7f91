package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/harshalgadre/file-share/pkg/config"
	"github.com/harshalgadre/file-share/pkg/observability"
	"github.com/harshalgadre/file-share/pkg/relay"
	"github.com/harshalgadre/file-share/pkg/transport/tcp"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("fileshare-relay started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	srv, err := relay.New(cfg)
	if err != nil {
		zap.L().Error("failed to assemble relay", zap.Error(err))
		return 1
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.TCPListen != "" {
		l, err := tcp.Listen(ctx, cfg.Server.TCPListen)
		if err != nil {
			zap.L().Error("tcp listen", zap.String("addr", cfg.Server.TCPListen), zap.Error(err))
			return 1
		}
		defer l.Close()
		go func() {
			if err := srv.ServeListener(ctx, l); err != nil {
				zap.L().Error("tcp accept loop", zap.Error(err))
			}
		}()
		zap.L().Info("tcp listener up", zap.String("addr", cfg.Server.TCPListen))
	}

	var httpSrv *http.Server
	if cfg.Server.HTTPListen != "" {
		httpSrv = &http.Server{Addr: cfg.Server.HTTPListen, Handler: srv.Router()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Error("http listener", zap.Error(err))
			}
		}()
		zap.L().Info("http listener up", zap.String("addr", cfg.Server.HTTPListen))
	}

	zap.L().Info("relay is running; press Ctrl+C to exit")
	<-ctx.Done()

	if httpSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			zap.L().Warn("http shutdown", zap.Error(err))
		}
	}
	zap.L().Info("relay stopped")
	return 0
}
