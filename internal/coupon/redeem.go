package coupon

import (
	"context"
	"fmt"
	"time"

	"bonanza-lottery/internal/cache"
	"bonanza-lottery/internal/models"
)

// Redeemer records coupon use. Release undoes a Redeem whose purchase did not go through.
type Redeemer interface {
	Redeem(ctx context.Context, c models.Coupon) error
	Release(ctx context.Context, c models.Coupon) error
}

// CacheRedeemer makes coupons single-use by claiming a cache key per coupon id.
type CacheRedeemer struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheRedeemer returns a redeemer whose markers live for ttl; zero keeps them forever.
func NewCacheRedeemer(c cache.Cache, ttl time.Duration) *CacheRedeemer {
	return &CacheRedeemer{cache: c, ttl: ttl}
}

func redemptionKey(c models.Coupon) string {
	return "coupon:redeemed:" + decimal(c.ID)
}

func (r *CacheRedeemer) Redeem(ctx context.Context, c models.Coupon) error {
	ok, err := r.cache.SetIfAbsent(ctx, redemptionKey(c), []byte(c.Owner.Hex()), r.ttl)
	if err != nil {
		return fmt.Errorf("failed to record coupon redemption: %w", err)
	}
	if !ok {
		return ErrRedeemed
	}
	return nil
}

func (r *CacheRedeemer) Release(ctx context.Context, c models.Coupon) error {
	if err := r.cache.Delete(ctx, redemptionKey(c)); err != nil {
		return fmt.Errorf("failed to release coupon redemption: %w", err)
	}
	return nil
}

// Unlimited lets a coupon be used any number of times.
type Unlimited struct{}

func (Unlimited) Redeem(context.Context, models.Coupon) error  { return nil }
func (Unlimited) Release(context.Context, models.Coupon) error { return nil }
