package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/louisbranch/partyround/internal/platform/id"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/catalog"
	"github.com/louisbranch/partyround/internal/services/rounds/observability/metrics"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

const tracerName = "github.com/louisbranch/partyround/internal/services/rounds/engine"

var (
	// ErrStoreRequired indicates a missing round store.
	ErrStoreRequired = errors.New("round store is required")
	// ErrCatalogRequired indicates a missing entity catalog.
	ErrCatalogRequired = errors.New("entity catalog is required")
)

// ResolutionPublisher receives every freshly committed resolution.
type ResolutionPublisher interface {
	PublishResolution(ctx context.Context, rec storage.ResolutionRecord) error
}

// Config wires a Service. Store and Catalog are required; everything else
// has a default.
type Config struct {
	Store     storage.Store
	Catalog   *catalog.Catalog
	Legality  LegalityChecker
	Publisher ResolutionPublisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Tracer    trace.Tracer
	// Renderer renders audit text. Defaults to the en-US message catalog.
	Renderer auditlog.Renderer
	Now      func() time.Time
	// Seed draws the tie-break seed stored at freeze time.
	Seed  func() int64
	NewID func() (string, error)
}

// Service is the round engine.
type Service struct {
	store     storage.Store
	catalog   *catalog.Catalog
	legality  LegalityChecker
	publisher ResolutionPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	renderer  auditlog.Renderer
	now       func() time.Time
	seed      func() int64
	newID     func() (string, error)

	flight singleflight.Group
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Catalog == nil {
		return nil, ErrCatalogRequired
	}
	s := &Service{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		legality:  cfg.Legality,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		renderer:  cfg.Renderer,
		now:       cfg.Now,
		seed:      cfg.Seed,
		newID:     cfg.NewID,
	}
	if s.legality == nil {
		s.legality = CatalogLegality{Catalog: cfg.Catalog}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.renderer == nil {
		s.renderer = auditlog.NewRenderer("")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.seed == nil {
		s.seed = rand.Int64
	}
	if s.newID == nil {
		s.newID = id.NewID
	}
	return s, nil
}

func (s *Service) startSpan(ctx context.Context, name string, key storage.RoundKey) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("match.id", key.MatchID),
		attribute.Int("round.number", key.Round),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func roundFields(key storage.RoundKey) []zap.Field {
	return []zap.Field{zap.String("match_id", key.MatchID), zap.Int("round", key.Round)}
}

// roundMetadata feeds the {{.Round}} placeholder of localized messages.
func roundMetadata(key storage.RoundKey) map[string]string {
	return map[string]string{"Round": strconv.Itoa(key.Round)}
}
