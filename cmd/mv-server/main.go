package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metavault/pkg/app"
	"metavault/pkg/config"
	"metavault/pkg/server"
	"metavault/pkg/service"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is $HOME/.mv/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := cfg.Log.Logger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Init Core Application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}()
	logger.Info("MetaVault core initialized",
		"db", cfg.Database.Driver,
		"storage", cfg.Storage.Type,
		"cache", cfg.Cache.RedisURL != "",
	)

	// 3. Setup Network
	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Server.Addr, "error", err)
		os.Exit(1)
	}

	// 4. Setup gRPC + metrics servers
	grpcServer, health := server.NewGRPC(service.NewServer(application.Engine, logger), application.Metrics, logger)
	httpServer := server.NewHTTP(cfg.Server.MetricsAddr, application.Registry)

	// 5. Start servers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.Server.Addr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.Server.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 6. Graceful Shutdown：收到信号或任意 server 出错都会走到这里
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		health.SetServingStatus(service.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return
	}
	logger.Info("server stopped")
}
