// Package keeper drives rounds through their time-based transitions.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/randomness"
)

// Engine is the part of the settlement engine the keeper drives.
type Engine interface {
	CurrentLotteryID(ctx context.Context) (uint64, error)
	ViewLottery(ctx context.Context, id uint64) (models.Round, error)
	CloseLottery(ctx context.Context, caller common.Address, roundID uint64) error
	WinCounts(ctx context.Context, roundID uint64, numbers models.Numbers) ([models.Brackets]uint64, error)
	DrawFinalNumber(ctx context.Context, caller common.Address, roundID uint64, winCounts [models.Brackets]uint64) (models.Round, error)
}

// Options configures a Keeper.
type Options struct {
	Engine     Engine
	Randomness randomness.Source
	Features   *features.Manager
	// Operator returns the account the keeper acts as.
	Operator func() (common.Address, bool)
	Logger   logrus.FieldLogger
	Clock    func() time.Time
	Timeout  time.Duration
}

// Keeper closes expired rounds and, when keeper_auto_draw is enabled, settles them with
// the winner counts computed from the current randomness result.
type Keeper struct {
	engine   Engine
	random   randomness.Source
	features *features.Manager
	operator func() (common.Address, bool)
	logger   logrus.FieldLogger
	now      func() time.Time
	timeout  time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func New(opts Options) *Keeper {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Keeper{
		engine:   opts.Engine,
		random:   opts.Randomness,
		features: opts.Features,
		operator: opts.Operator,
		logger:   opts.Logger.WithField("component", "keeper"),
		now:      opts.Clock,
		timeout:  opts.Timeout,
	}
}

// Start schedules Tick on spec, a robfig/cron expression such as "@every 30s".
func (k *Keeper) Start(spec string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cron != nil {
		return fmt.Errorf("keeper already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
		defer cancel()
		if err := k.Tick(ctx); err != nil {
			k.logger.WithError(err).Error("keeper tick failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid keeper schedule %q: %w", spec, err)
	}
	c.Start()
	k.cron = c
	k.logger.WithField("schedule", spec).Info("keeper started")
	return nil
}

// Stop stops scheduling and waits for a running tick.
func (k *Keeper) Stop() {
	k.mu.Lock()
	c := k.cron
	k.cron = nil
	k.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Tick advances the current round by at most one transition.
func (k *Keeper) Tick(ctx context.Context) error {
	id, err := k.engine.CurrentLotteryID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current round: %w", err)
	}
	if id == 0 {
		return nil
	}
	r, err := k.engine.ViewLottery(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read round %d: %w", id, err)
	}

	operator, ok := k.operator()
	if !ok {
		return fmt.Errorf("no operator account configured")
	}

	switch {
	case r.Status == models.StatusOpen && k.now().Unix() > r.EndTime:
		err := k.engine.CloseLottery(ctx, operator, id)
		metrics.RecordKeeperRun("close", err == nil)
		if err != nil {
			return fmt.Errorf("failed to close round %d: %w", id, err)
		}
		k.logger.WithField("round_id", id).Info("round closed by keeper")
		return nil

	case r.Status == models.StatusClose && k.features.IsEnabled(features.FeatureKeeperAutoDraw):
		err := k.draw(ctx, operator, id)
		metrics.RecordKeeperRun("draw", err == nil)
		return err
	}
	return nil
}

func (k *Keeper) draw(ctx context.Context, operator common.Address, id uint64) error {
	numbers, err := k.random.CurrentResult(ctx)
	if err != nil {
		return fmt.Errorf("failed to read randomness: %w", err)
	}
	numbers, err = randomness.Validate(numbers)
	if err != nil {
		return err
	}
	counts, err := k.engine.WinCounts(ctx, id, numbers)
	if err != nil {
		return fmt.Errorf("failed to count winners of round %d: %w", id, err)
	}
	if _, err := k.engine.DrawFinalNumber(ctx, operator, id, counts); err != nil {
		return fmt.Errorf("failed to draw round %d: %w", id, err)
	}
	k.logger.WithFields(logrus.Fields{
		"round_id":     id,
		"final_number": numbers.String(),
		"win_counts":   counts,
	}).Info("round drawn by keeper")
	return nil
}
