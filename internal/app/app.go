package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/flashorder/internal/health"
	"github.com/vladislavdragonenkov/flashorder/internal/metrics"
	"github.com/vladislavdragonenkov/flashorder/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/flashorder/internal/service/httpapi"
	"github.com/vladislavdragonenkov/flashorder/internal/service/outbox"
	"github.com/vladislavdragonenkov/flashorder/internal/service/submission"
	"github.com/vladislavdragonenkov/flashorder/internal/tracing"
	"github.com/vladislavdragonenkov/flashorder/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	healthWatchInterval = 5 * time.Second
)

// Run поднимает HTTP API, исполнителя задач, outbox worker, сервер метрик
// и gRPC health. Блокируется до отмены ctx или ошибки одного из компонентов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.JaegerEndpoint != "" {
		shutdownTracing, err := tracing.InitProvider(cfg.ServiceName, cfg.JaegerEndpoint, log.WithField("component", "tracing"))
		if err != nil {
			logger.WithError(err).Warn("failed to init tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					logger.WithError(err).Warn("tracing shutdown with error")
				}
			}()
		}
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	fulfillmentMetrics := metrics.NewFulfillmentMetrics()
	worker := fulfillment.NewWorker(deps.orders, deps.ledger,
		fulfillment.WithLogger(log.WithField("component", "fulfillment-worker")),
		fulfillment.WithMetrics(fulfillmentMetrics),
		fulfillment.WithRetryPolicy(cfg.RetryPolicy()),
	)
	processor := fulfillment.NewProcessor(worker, log.WithField("component", "fulfillment"))

	transport, err := initTaskTransport(cfg, processor, logger)
	if err != nil {
		return err
	}
	defer transport.close()

	orders := submission.NewService(deps.products, deps.orders, deps.ledger, transport.queue,
		submission.WithLogger(log.WithField("component", "submission")),
		submission.WithMetrics(fulfillmentMetrics),
	)

	healthHandler := healthcheck.NewHandler(version.Current())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	if transport.checker != nil {
		healthHandler.RegisterChecker("task-queue", transport.checker)
	}

	outboxWorker := outbox.NewWorker(deps.outbox, transport.events,
		outbox.Config{
			PollInterval:   cfg.OutboxPollInterval,
			BatchSize:      cfg.OutboxBatchSize,
			MaxAttempts:    cfg.OutboxMaxAttempts,
			RetryBaseDelay: cfg.OutboxRetryDelay,
		},
		outbox.WithLogger(log.WithField("component", "outbox-worker")),
		outbox.WithDeadLetters(transport.dlq),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
	)

	apiListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	metricsListener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiListener.Close()
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiListener.Close()
		_ = metricsListener.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	apiServer := &http.Server{
		Handler:           httpapi.NewHandler(orders, log.WithField("component", "http-api")).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := newMetricsServer(healthHandler)
	grpcServer, grpcHealth := newGRPCServer(cfg.ServiceName, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return serveHTTP(groupCtx, apiServer, apiListener, logger.WithField("server", "api"))
	})
	group.Go(func() error {
		return serveHTTP(groupCtx, metricsServer, metricsListener, logger.WithField("server", "metrics"))
	})
	group.Go(func() error {
		return serveGRPC(groupCtx, grpcServer, grpcHealth, grpcListener, logger.WithField("server", "grpc"))
	})
	group.Go(func() error {
		if err := transport.run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("task consumer: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		outboxWorker.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		healthHandler.Watch(groupCtx, healthWatchInterval, func(ready bool) {
			setGRPCServing(grpcHealth, cfg.ServiceName, ready)
			if !ready {
				logger.Warn("dependencies are unhealthy, grpc health reports NOT_SERVING")
			}
		})
		return nil
	})

	logger.WithFields(log.Fields{
		"http_addr":    apiListener.Addr().String(),
		"metrics_addr": metricsListener.Addr().String(),
		"grpc_addr":    grpcListener.Addr().String(),
		"storage":      cfg.StorageDriver,
		"ledger":       cfg.LedgerDriver,
		"queue":        cfg.QueueDriver,
	}).Info("flashorder started")

	err = group.Wait()
	if ctx.Err() != nil {
		logger.Info("shutdown completed")
		return ctx.Err()
	}
	return err
}

// newMetricsServer собирает HTTP-обработчик метрик Prometheus и health probes.
func newMetricsServer(healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serveHTTP обслуживает запросы до отмены ctx и затем аккуратно останавливает сервер.
func serveHTTP(ctx context.Context, srv *http.Server, lis net.Listener, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("http server listening")
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(srv, logger)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// newGRPCServer создаёт gRPC сервер с health, reflection и метриками.
func newGRPCServer(serviceName string, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	setGRPCServing(healthServer, serviceName, true)
	healthpb.RegisterHealthServer(server, healthServer)

	// Reflection нужен grpcurl и инструментам нагрузочного тестирования.
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

// serveGRPC обслуживает gRPC до отмены ctx. Остановка ограничена shutdownTimeout.
func serveGRPC(ctx context.Context, server *grpc.Server, healthServer *health.Server, lis net.Listener, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("grpc server listening")
		errCh <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		healthServer.Shutdown()
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop timed out, forcing grpc server stop")
			server.Stop()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// setGRPCServing выставляет статус общего сервиса ("") и сервиса по имени.
func setGRPCServing(server *health.Server, serviceName string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	server.SetServingStatus("", status)
	if serviceName != "" {
		server.SetServingStatus(serviceName, status)
	}
}
