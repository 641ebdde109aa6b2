// Package server 组装 gRPC 服务端和旁路的 HTTP (指标 / 健康检查) 端点
package server

import (
	"log/slog"
	"net/http"
	"time"

	"metavault/pkg/metrics"
	"metavault/pkg/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// NewGRPC 创建挂好拦截器链的 gRPC server，并注册 VersionControl、健康检查和反射
// 拦截器顺序：recovery 最外层，其次 metrics，最后 logging
func NewGRPC(svc service.VersionControlServer, m *metrics.Metrics, log *slog.Logger) (*grpc.Server, *health.Server) {
	if log == nil {
		log = slog.Default()
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			UnaryRecoveryInterceptor(log),
			UnaryMetricsInterceptor(m),
			UnaryLoggingInterceptor(log),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(log),
			StreamLoggingInterceptor(log),
		),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	service.Register(s, svc)

	hs := health.NewServer()
	hs.SetServingStatus(service.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	// 给 grpcurl 之类的调试工具用
	reflection.Register(s)
	return s, hs
}

// NewHTTP 创建暴露 /metrics 与 /healthz 的 HTTP server
func NewHTTP(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
