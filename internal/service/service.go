package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/cache"
	"bonanza-lottery/internal/coupon"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/events"
	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/randomness"
	"bonanza-lottery/internal/referral"
	"bonanza-lottery/internal/token"
	"bonanza-lottery/internal/tracing"
)

// Options wires the engine to its collaborators. Store, Ledger, Randomness, Roles and
// Address are required.
type Options struct {
	Store      database.Store
	Ledger     token.Ledger
	Randomness randomness.Source
	Referrals  referral.Registry
	Coupons    *coupon.Verifier
	Redeemer   coupon.Redeemer
	Roles      *access.Control
	Events     *events.Manager
	Features   *features.Manager
	Cache      cache.Cache
	Logger     logrus.FieldLogger
	Settings   Settings

	// Address is the engine's own account on the ledger.
	Address           common.Address
	AffiliateReceiver common.Address

	Clock func() time.Time

	// BusyTimeout bounds how long a mutating call waits for the one in flight.
	BusyTimeout time.Duration
}

// defaultBusyTimeout covers a slow ledger transfer plus its compensation.
const defaultBusyTimeout = 10 * time.Second

// Service is the settlement engine. Checks and effects of every operation run under mu
// inside one store transaction; token transfers run afterwards, outside mu. Mutating
// operations hold ops from entry to return, so no other mutation lands between a
// transfer and its compensation.
type Service struct {
	mu  sync.Mutex
	ops chan struct{}

	busyTimeout time.Duration

	store     database.Store
	ledger    token.Ledger
	random    randomness.Source
	referrals referral.Registry
	coupons   *coupon.Verifier
	redeemer  coupon.Redeemer
	roles     *access.Control
	events    *events.Manager
	features  *features.Manager
	cache     cache.Cache
	logger    logrus.FieldLogger
	settings  Settings

	address           common.Address
	affiliateReceiver common.Address

	now func() time.Time
}

// NewService creates a new service instance.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("token ledger is required")
	}
	if opts.Randomness == nil {
		return nil, fmt.Errorf("randomness source is required")
	}
	if opts.Roles == nil {
		return nil, fmt.Errorf("access control is required")
	}
	if opts.Address == (common.Address{}) {
		return nil, fmt.Errorf("engine address is required")
	}
	if opts.Settings.MinJackpotPrize == nil {
		opts.Settings = DefaultSettings()
	}
	if opts.Referrals == nil {
		opts.Referrals = referral.NewMemoryLedger()
	}
	if opts.Redeemer == nil {
		opts.Redeemer = coupon.Unlimited{}
	}
	if opts.Events == nil {
		opts.Events = events.NewManager(false, nil)
	}
	if opts.Features == nil {
		opts.Features = features.NewManager()
		features.RegisterDefaults(opts.Features)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}

	return &Service{
		ops:               make(chan struct{}, 1),
		busyTimeout:       opts.BusyTimeout,
		store:             opts.Store,
		ledger:            opts.Ledger,
		random:            opts.Randomness,
		referrals:         opts.Referrals,
		coupons:           opts.Coupons,
		redeemer:          opts.Redeemer,
		roles:             opts.Roles,
		events:            opts.Events,
		features:          opts.Features,
		cache:             opts.Cache,
		logger:            opts.Logger.WithField("component", "engine"),
		settings:          opts.Settings.Clone(),
		address:           opts.Address,
		affiliateReceiver: opts.AffiliateReceiver,
		now:               opts.Clock,
	}, nil
}

// Address returns the engine's ledger account.
func (s *Service) Address() common.Address {
	return s.address
}

// Settings returns a copy of the current engine constants.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// begin opens a span for op and returns a finisher that records metrics and the error.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "engine."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		metrics.RecordOperation(op, errorKind(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func errorKind(err error) string {
	if err == nil {
		return "ok"
	}
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "internal"
}

// require checks caller holds role.
func (s *Service) require(role access.Role, caller common.Address) error {
	if err := s.roles.Require(role, caller); err != nil {
		return &Error{Kind: KindAccessControl, Reason: "Not " + string(role), Err: err}
	}
	return nil
}

type inFlightKey struct{}

// enter admits one mutating operation at a time. A call made from inside an operation's
// ledger interaction carries the in-flight marker and is rejected outright.
func (s *Service) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(inFlightKey{}) != nil {
		return ctx, nil, stateError(0, ReasonReentrant)
	}

	timer := time.NewTimer(s.busyTimeout)
	defer timer.Stop()
	select {
	case s.ops <- struct{}{}:
	case <-timer.C:
		return ctx, nil, stateError(0, ReasonBusy)
	case <-ctx.Done():
		return ctx, nil, ctx.Err()
	}
	return context.WithValue(ctx, inFlightKey{}, struct{}{}), func() { <-s.ops }, nil
}

// update runs fn under the engine mutex in one store transaction.
func (s *Service) update(ctx context.Context, fn func(tx database.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(ctx, fn)
}

// compensate applies fn as an inverse delta after a failed interaction. The returned error
// joins the interaction failure with any compensation failure.
func (s *Service) compensate(ctx context.Context, op string, cause error, fn func(tx database.Tx) error) error {
	// the caller's context may already be cancelled; the inverse delta must still land
	cctx := context.WithoutCancel(ctx)
	if err := s.update(cctx, fn); err != nil {
		s.logger.WithFields(logrus.Fields{
			"op":    op,
			"cause": cause.Error(),
		}).WithError(err).Error("compensation failed")
		return errors.Join(cause, fmt.Errorf("failed to compensate %s: %w", op, err))
	}
	s.logger.WithField("op", op).WithError(cause).Warn("interaction failed, effects reverted")
	return cause
}

func loadRound(ctx context.Context, tx database.Tx, id uint64) (models.Round, error) {
	r, err := tx.Round(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return r, &Error{Kind: KindNotFound, Reason: ReasonLotteryNotFound, RoundID: id}
	}
	if err != nil {
		return r, fmt.Errorf("failed to load round %d: %w", id, err)
	}
	return r, nil
}

func roundCacheKey(id uint64) string {
	return fmt.Sprintf("round:%d", id)
}

// invalidateRound drops a cached round snapshot; failures only cost a stale read.
func (s *Service) invalidateRound(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, roundCacheKey(id)); err != nil {
		s.logger.WithField("round_id", id).WithError(err).Warn("failed to invalidate round cache")
	}
}
