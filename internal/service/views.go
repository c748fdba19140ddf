package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bonanza-lottery/internal/cache"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/models"
)

// roundCacheTTL bounds how long a settled round snapshot is served from the cache.
const roundCacheTTL = 10 * time.Minute

// ViewLottery returns round id. Claimable rounds only change through claim counters, so
// their snapshots are cached and invalidated on every claim.
func (s *Service) ViewLottery(ctx context.Context, id uint64) (models.Round, error) {
	useCache := s.cache != nil && s.features.IsEnabled(features.FeatureRoundCache)
	if useCache {
		var cached models.Round
		if err := cache.GetJSON(ctx, s.cache, roundCacheKey(id), &cached); err == nil {
			return cached, nil
		}
	}

	var r models.Round
	err := s.store.View(ctx, func(tx database.Tx) error {
		var err error
		r, err = loadRound(ctx, tx, id)
		return err
	})
	if err != nil {
		return models.Round{}, err
	}

	if useCache && r.Status == models.StatusClaimable {
		if err := cache.SetJSON(ctx, s.cache, roundCacheKey(id), r, roundCacheTTL); err != nil {
			s.logger.WithField("round_id", id).WithError(err).Warn("failed to cache round")
		}
	}
	return r, nil
}

// CurrentLotteryID returns the id of the latest round, 0 before the first start.
func (s *Service) CurrentLotteryID(ctx context.Context) (uint64, error) {
	state, err := s.Treasury(ctx)
	if err != nil {
		return 0, err
	}
	return state.CurrentRoundID, nil
}

// Treasury returns the cross-round engine state.
func (s *Service) Treasury(ctx context.Context) (models.EngineState, error) {
	var state models.EngineState
	err := s.store.View(ctx, func(tx database.Tx) error {
		var err error
		state, err = tx.State(ctx)
		return err
	})
	if err != nil {
		return models.EngineState{}, fmt.Errorf("failed to load engine state: %w", err)
	}
	return state, nil
}

// ViewNumbersAndAddressForTicketIDs returns the combinations and owners of ids, in order.
func (s *Service) ViewNumbersAndAddressForTicketIDs(ctx context.Context, ids []uint64) (models.TicketsView, error) {
	view := models.TicketsView{
		Numbers: make([]models.Numbers, 0, len(ids)),
		Owners:  make([]common.Address, 0, len(ids)),
	}
	err := s.store.View(ctx, func(tx database.Tx) error {
		for _, id := range ids {
			t, err := tx.Ticket(ctx, id)
			if errors.Is(err, database.ErrNotFound) {
				return &Error{Kind: KindNotFound, Reason: "Ticket not found", TicketID: &id}
			}
			if err != nil {
				return fmt.Errorf("failed to load ticket %d: %w", id, err)
			}
			view.Numbers = append(view.Numbers, t.Numbers)
			view.Owners = append(view.Owners, t.Owner)
		}
		return nil
	})
	if err != nil {
		return models.TicketsView{}, err
	}
	return view, nil
}

// ViewUserTickets lists the tickets user bought in round roundID.
func (s *Service) ViewUserTickets(ctx context.Context, roundID uint64, user common.Address) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := s.store.View(ctx, func(tx database.Tx) error {
		if _, err := loadRound(ctx, tx, roundID); err != nil {
			return err
		}
		var err error
		tickets, err = tx.TicketsByOwner(ctx, roundID, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ViewRewardsForTicketID returns what claiming ticketID would pay now, zero once claimed
// or before the round is claimable. The affiliate prize is included for referred jackpots.
func (s *Service) ViewRewardsForTicketID(ctx context.Context, roundID, ticketID uint64) (*big.Int, error) {
	reward := new(big.Int)
	err := s.store.View(ctx, func(tx database.Tx) error {
		r, err := loadRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusClaimable {
			return nil
		}
		t, err := tx.Ticket(ctx, ticketID)
		if errors.Is(err, database.ErrNotFound) || (err == nil && t.RoundID != roundID) {
			return ticketError(KindValidation, roundID, ticketID, ReasonTicketNotInLottery)
		}
		if err != nil {
			return fmt.Errorf("failed to load ticket %d: %w", ticketID, err)
		}
		if t.Claimed {
			return nil
		}
		b, ok := t.Numbers.Bracket(r.FinalNumber)
		if !ok || r.TicketsWin[b] == 0 {
			return nil
		}
		reward.Set(r.PrizeAmounts[b])
		if b == models.JackpotBracket && t.Referred() {
			reward.Add(reward, r.AffiliatePrize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reward, nil
}

// WinCounts returns the per-bracket histogram of round roundID's tickets against numbers.
// It is the input DrawFinalNumber expects for that combination.
func (s *Service) WinCounts(ctx context.Context, roundID uint64, numbers models.Numbers) ([models.Brackets]uint64, error) {
	var counts [models.Brackets]uint64
	err := s.store.View(ctx, func(tx database.Tx) error {
		if _, err := loadRound(ctx, tx, roundID); err != nil {
			return err
		}
		tickets, err := tx.TicketsByRound(ctx, roundID)
		if err != nil {
			return fmt.Errorf("failed to list tickets: %w", err)
		}
		for _, t := range tickets {
			if b, ok := t.Numbers.Bracket(numbers); ok {
				counts[b]++
			}
		}
		return nil
	})
	return counts, err
}

// ReferralBalance returns the commissions account can withdraw.
func (s *Service) ReferralBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := s.store.View(ctx, func(tx database.Tx) error {
		var err error
		bal, err = tx.ReferralBalance(ctx, account)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load referral balance: %w", err)
	}
	return bal, nil
}

// CalculateTotalPriceForBulkTickets prices n tickets of round roundID.
func (s *Service) CalculateTotalPriceForBulkTickets(ctx context.Context, roundID uint64, n uint64) (*big.Int, error) {
	r, err := s.ViewLottery(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return CalculateTotalPriceForBulkTickets(r.DiscountDivisor, r.PriceTicket, n), nil
}
