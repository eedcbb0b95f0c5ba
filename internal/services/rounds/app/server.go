// Package server wires the rounds runtime: the HTTP API, the gRPC health
// listener, the deadline sweeper and the resolution event bus.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/partyround/internal/platform/grpc"
	"github.com/louisbranch/partyround/internal/platform/timeouts"
	"github.com/louisbranch/partyround/internal/services/rounds/api/httpapi"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/engine"
	"github.com/louisbranch/partyround/internal/services/rounds/events"
	"github.com/louisbranch/partyround/internal/services/rounds/observability/metrics"
	"github.com/louisbranch/partyround/internal/services/rounds/storage/sqlite"
)

// HealthService is the gRPC health service name reported by the server.
const HealthService = "partyround.rounds"

// Config holds the runtime settings for a rounds server.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	DBPath      string
	CatalogPath string
	JWTSecret   string
	// SweepInterval disables the deadline sweeper when zero or negative.
	SweepInterval    time.Duration
	SweepConcurrency int
}

// Server hosts the rounds HTTP API, gRPC health and storage lifecycle.
type Server struct {
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *sqlite.Store
	bus          *gochannel.GoChannel
	engine       *engine.Service
	logger       *zap.Logger

	sweepInterval    time.Duration
	sweepConcurrency int
}

// New opens storage, loads the catalog and binds both listeners.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "rounds.db")
	}

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	verifier, err := httpapi.NewVerifier(cfg.JWTSecret, time.Now)
	if err != nil {
		return nil, err
	}
	store, err := openRoundsStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bus := events.NewGoChannel(logger)
	publisher, err := events.NewPublisher(bus)
	if err != nil {
		_ = bus.Close()
		_ = store.Close()
		return nil, err
	}
	m := metrics.New()
	svc, err := engine.New(engine.Config{
		Store:     store,
		Catalog:   cat,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger.Named("engine"),
	})
	if err != nil {
		_ = bus.Close()
		_ = store.Close()
		return nil, err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = bus.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		_ = bus.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	grpcServer, healthServer := platformgrpc.NewHealthServer(HealthService)

	handler := &httpapi.Handler{
		Engine:   svc,
		Verifier: verifier,
		Metrics:  m.Handler(),
		Logger:   logger.Named("http"),
	}
	return &Server{
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           handler.Routes(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcListener:     grpcListener,
		grpcServer:       grpcServer,
		health:           healthServer,
		store:            store,
		bus:              bus,
		engine:           svc,
		logger:           logger,
		sweepInterval:    cfg.SweepInterval,
		sweepConcurrency: cfg.SweepConcurrency,
	}, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	return catalog.Load(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

func openRoundsStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rounds store: %w", err)
	}
	return store, nil
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the gRPC health listener address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves a rounds server until context cancellation.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	server, err := New(cfg, logger)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs both listeners, the sweeper and the event log until ctx ends
// or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	s.logger.Info("rounds server listening",
		zap.String("http_addr", s.HTTPAddr()),
		zap.String("grpc_addr", s.GRPCAddr()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.grpcServer.Serve(s.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return events.Consume(gctx, s.bus, events.TopicPublic, events.NewZapLogger(s.logger), s.logResolved)
	})
	g.Go(func() error {
		s.sweep(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.grpcServer.GracefulStop()
		if err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) logResolved(_ context.Context, ev events.ResolvedEvent) error {
	s.logger.Debug("round resolved",
		zap.String("match_id", ev.MatchID),
		zap.Int("round", ev.Round),
		zap.Bool("ended", ev.Verdict.Ended),
		zap.String("winner", ev.Verdict.Winner),
		zap.Int("lines", len(ev.Lines)),
	)
	return nil
}

func (s *Server) sweep(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(max(s.sweepInterval, timeouts.SweepTick))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.engine.Sweep(ctx, s.sweepConcurrency)
			if err != nil {
				s.logger.Warn("sweep rounds", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("swept overdue rounds", zap.Int("resolved", n))
			}
		}
	}
}

// Close releases server resources.
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
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.Warn("close event bus", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close rounds store", zap.Error(err))
		}
	}
}
