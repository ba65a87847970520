package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/events"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

var (
	ErrActorRequired = errors.New("authenticated actor required")
	ErrForbidden     = errors.New("admin role required")
)

const (
	PricePolicyTrust  = "trust"
	PricePolicyStrict = "strict"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// PricePolicy is PricePolicyTrust or PricePolicyStrict.
	PricePolicy string
	// LowStockThreshold applies to products without a threshold of their own.
	LowStockThreshold decimal.Decimal
	ReportCacheTTL    time.Duration
}

type Service struct {
	repo      store.Repository
	publisher events.Publisher
	reports   cache.ReportCache
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func New(repo store.Repository, publisher events.Publisher, reports cache.ReportCache, logger *zap.Logger, opts Options) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if reports == nil {
		reports = &cache.NoopReportCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PricePolicy != PricePolicyStrict {
		opts.PricePolicy = PricePolicyTrust
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = time.Minute
	}

	return &Service{
		repo:      repo,
		publisher: publisher,
		reports:   reports,
		logger:    logger.Named("service"),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, ErrActorRequired
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// afterCommit runs the side effects of committed movements. Failures are
// logged and never surface to the caller, whose write already succeeded.
func (s *Service) afterCommit(ctx context.Context, movements []domain.Movement) {
	if len(movements) == 0 {
		return
	}
	for _, m := range movements {
		metrics.MovementsAppliedTotal.WithLabelValues(string(m.ChangeType)).Inc()
	}
	if err := s.reports.Bump(ctx); err != nil {
		s.logger.Warn("failed to bump report epoch", zap.Error(err))
	}

	batch := s.stockEvents(ctx, movements)
	if err := s.publisher.Publish(ctx, batch); err != nil {
		for _, e := range batch {
			metrics.EventsPublishedTotal.WithLabelValues(e.Type, "error").Inc()
		}
		s.logger.Warn("failed to publish stock events", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	for _, e := range batch {
		metrics.EventsPublishedTotal.WithLabelValues(e.Type, "ok").Inc()
	}
}

func (s *Service) stockEvents(ctx context.Context, movements []domain.Movement) []domain.StockEvent {
	ids := make([]string, 0, len(movements))
	for _, m := range movements {
		ids = append(ids, m.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to load products for low stock check", zap.Error(err))
		products = map[string]domain.Product{}
	}

	batch := make([]domain.StockEvent, 0, len(movements))
	for _, m := range movements {
		e := domain.StockEvent{
			Type:       domain.EventStockChanged,
			ProductID:  m.ProductID,
			LocationID: m.LocationID,
			ChangeType: m.ChangeType,
			Change:     m.ChangeAmount,
			Quantity:   m.NewQuantity,
			MovementID: m.ID,
			Actor:      m.Actor,
			At:         m.CreatedAt,
		}
		batch = append(batch, e)

		threshold := s.opts.LowStockThreshold
		if p, ok := products[m.ProductID]; ok && p.LowStockThreshold.IsPositive() {
			threshold = p.LowStockThreshold
		}
		if m.ChangeAmount.IsNegative() && m.NewQuantity.LessThanOrEqual(threshold) {
			low := e
			low.Type = domain.EventStockLow
			low.Threshold = threshold
			batch = append(batch, low)
		}
	}
	return batch
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", fmt.Sprintf("%s/%s", entityType, entityID)),
			zap.Error(err))
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func observe(op string, start time.Time) {
	metrics.TransactionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
