package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/clock"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/notify"
	"github.com/kvasirlabs/waitline/internal/observability/metrics"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

var tracer = otel.Tracer("waitline/queue")

// Publisher is the notification sink the engine hands intents to after
// a transaction commits. Delivery is best-effort and never blocks.
type Publisher interface {
	Publish(intents ...notify.Intent)
}

// EngineConfig carries the engine dependencies and tuning. Store is
// required; the rest defaults.
type EngineConfig struct {
	Store     Store
	Clock     clock.Clock
	Publisher Publisher
	Logger    *logging.Logger
	Metrics   *metrics.QueueMetrics

	// Cache, when set, backs the per-helper wait-time projection.
	Cache *redis.Client
	// WaitCacheTTL bounds the staleness of cached wait times.
	WaitCacheTTL time.Duration

	// UndoWindow bounds how far back a vendor action stays undoable.
	UndoWindow time.Duration
	// RestructureHorizon is the joining-time window restructures
	// triggered by actions and breaks cover.
	RestructureHorizon time.Duration
	// MaterialWaitDelta is the ETA change, in minutes, that makes a
	// restructure update notification-worthy on its own.
	MaterialWaitDelta int
	// ConflictRetries bounds retries on concurrent-writer conflicts.
	ConflictRetries int
}

// Engine is the queue scheduling and mutation core. All write paths
// take the per-business mutex, run one store transaction, and publish
// notifications only after commit.
type Engine struct {
	store     Store
	clock     clock.Clock
	publisher Publisher
	logger    *logging.Logger
	metrics   *metrics.QueueMetrics

	cache        *redis.Client
	waitCacheTTL time.Duration

	undoWindow        time.Duration
	horizon           time.Duration
	materialWaitDelta int
	conflictRetries   int

	locks    *keyedMutex
	onCommit func(businessID string)
}

// NewEngine builds an engine from the config, applying defaults for
// anything unset.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Store == nil {
		panic("queue: store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.UndoWindow <= 0 {
		cfg.UndoWindow = 5 * time.Minute
	}
	if cfg.RestructureHorizon <= 0 {
		cfg.RestructureHorizon = 24 * time.Hour
	}
	if cfg.MaterialWaitDelta <= 0 {
		cfg.MaterialWaitDelta = 5
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if cfg.WaitCacheTTL <= 0 {
		cfg.WaitCacheTTL = 5 * time.Second
	}
	return &Engine{
		store:             cfg.Store,
		clock:             cfg.Clock,
		publisher:         cfg.Publisher,
		logger:            cfg.Logger.Component("queue"),
		metrics:           cfg.Metrics,
		cache:             cfg.Cache,
		waitCacheTTL:      cfg.WaitCacheTTL,
		undoWindow:        cfg.UndoWindow,
		horizon:           cfg.RestructureHorizon,
		materialWaitDelta: cfg.MaterialWaitDelta,
		conflictRetries:   cfg.ConflictRetries,
		locks:             newKeyedMutex(),
	}
}

// Store exposes the underlying store for read-only consumers.
func (e *Engine) Store() Store { return e.store }

// SetCommitHook registers a callback invoked after every committed
// write to a business, outside the business lock. The live board uses
// it to push fresh snapshots.
func (e *Engine) SetCommitHook(fn func(businessID string)) { e.onCommit = fn }

func (e *Engine) committed(businessID string) {
	e.dropWaitCache(businessID)
	if e.onCommit != nil {
		e.onCommit(businessID)
	}
}

// publish hands intents to the notifier. Callers invoke it only after
// their transaction committed.
func (e *Engine) publish(kind string, intents []notify.Intent) {
	if len(intents) == 0 || e.publisher == nil {
		return
	}
	e.publisher.Publish(intents...)
	e.metrics.ObserveNotifications(kind, len(intents))
}

// runWrite executes fn in a store transaction under the business
// mutex, retrying bounded times on Conflict.
func (e *Engine) runWrite(ctx context.Context, businessID string, fn func(ctx context.Context, tx Tx) error) error {
	e.locks.Lock(businessID)
	defer e.locks.Unlock(businessID)
	return e.runWriteLocked(ctx, fn)
}

// runWriteLocked is runWrite for callers that already hold the
// business mutex (actions triggering restructures).
func (e *Engine) runWriteLocked(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= e.conflictRetries; attempt++ {
		err = e.store.RunInTx(ctx, fn)
		if err == nil || !apperr.IsKind(err, apperr.KindConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

// loadVendorBusiness loads the business and checks the principal is
// its owner or a participating helper.
func loadVendorBusiness(ctx context.Context, r Reader, businessID string, p identity.Principal) (*catalog.Business, error) {
	biz, err := r.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if biz.Deleted || biz.Suspended {
		return nil, apperr.NotFound("business %s not found", businessID)
	}
	if !p.Vendor() || !biz.IsVendor(p.ID) {
		return nil, apperr.Forbidden("not an owner or helper of this business")
	}
	return biz, nil
}
