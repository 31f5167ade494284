package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/motorpool/internal/platform/timeouts"
	"github.com/louisbranch/motorpool/internal/services/fleet/api/httpapi"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
	"github.com/louisbranch/motorpool/internal/services/fleet/service"
)

// HealthServiceFleet is the health service name of the HTTP API.
const HealthServiceFleet = "motorpool.fleet"

// Config describes one fleet process.
type Config struct {
	HTTPAddr   string
	HealthAddr string
	Storage    StorageConfig
	// ProjectionsEnabled runs the projection runners in this process.
	ProjectionsEnabled bool
	Projection         projection.Options
	Service            service.Options
}

// Server hosts the fleet HTTP API, the gRPC health service and the
// projection runners.
type Server struct {
	httpListener   net.Listener
	httpServer     *http.Server
	healthListener net.Listener
	grpcServer     *grpc.Server
	health         *health.Server
	stores         *Stores
	manager        *projection.Manager
}

// New opens storage and binds both listeners.
func New(ctx context.Context, cfg Config) (*Server, error) {
	stores, err := OpenStores(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc, err := service.New(stores.Events, stores.Projections, cfg.Service)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	healthServer := health.NewServer()
	var manager *projection.Manager
	var projections httpapi.Projections
	if cfg.ProjectionsEnabled {
		manager, err = projection.NewManager(stores.Events, stores.Projections, projection.Handlers(), cfg.Projection, healthServer)
		if err != nil {
			_ = stores.Close()
			return nil, err
		}
		projections = manager
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	healthListener, err := net.Listen("tcp", cfg.HealthAddr)
	if err != nil {
		_ = httpListener.Close()
		_ = stores.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HealthAddr, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthServiceFleet, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           httpapi.NewHandler(svc, projections),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		healthListener: healthListener,
		grpcServer:     grpcServer,
		health:         healthServer,
		stores:         stores,
		manager:        manager,
	}, nil
}

// Run creates and serves a fleet server until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// HealthAddr returns the bound gRPC health address.
func (s *Server) HealthAddr() string {
	if s == nil || s.healthListener == nil {
		return ""
	}
	return s.healthListener.Addr().String()
}

// Serve runs the listeners and projection runners until ctx is cancelled or a
// listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	defer s.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runners sync.WaitGroup
	if s.manager != nil {
		runners.Add(1)
		go func() {
			defer runners.Done()
			s.manager.Run(runCtx)
		}()
	}

	log.Printf("fleet HTTP server listening at %v", s.httpListener.Addr())
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()
	log.Printf("fleet health server listening at %v", s.healthListener.Addr())
	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- s.grpcServer.Serve(s.healthListener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve HTTP: %w", err)
		}
	case err := <-grpcErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = fmt.Errorf("serve gRPC: %w", err)
		}
	}

	s.health.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.Shutdown)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown HTTP server: %v", err)
	}
	s.grpcServer.GracefulStop()
	cancel()
	runners.Wait()
	return serveErr
}

// Close releases listeners and storage. It is safe to call more than once.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
	}
	if s.healthListener != nil {
		_ = s.healthListener.Close()
	}
	if s.stores != nil {
		_ = s.stores.Close()
	}
}
