package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/randomness"
)

// StartLottery opens the next round. The carried jackpot must already cover the minimum
// jackpot guarantee.
func (s *Service) StartLottery(ctx context.Context, caller common.Address, endTime int64, price *big.Int, discountDivisor uint64) (round models.Round, err error) {
	ctx, done := s.begin(ctx, "start_lottery")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return models.Round{}, err
	}
	defer release()

	if err := s.require(access.RoleOperator, caller); err != nil {
		return models.Round{}, err
	}
	if price == nil {
		return models.Round{}, validationError(ReasonPriceOutOfRange)
	}

	err = s.update(ctx, func(tx database.Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		if state.CurrentRoundID != 0 {
			current, err := loadRound(ctx, tx, state.CurrentRoundID)
			if err != nil {
				return err
			}
			if current.Status == models.StatusOpen || current.Status == models.StatusClose {
				return stateError(current.ID, ReasonNotFinished)
			}
		}

		now := s.now()
		length := time.Duration(endTime-now.Unix()) * time.Second
		if length < s.settings.MinRoundLength || length > s.settings.MaxRoundLength {
			return validationError(ReasonLengthOutOfRange)
		}
		if price.Cmp(s.settings.MinPriceTicket) < 0 || price.Cmp(s.settings.MaxPriceTicket) > 0 {
			return validationError(ReasonPriceOutOfRange)
		}
		if state.JackpotCarry.Cmp(s.settings.MinJackpotPrize) < 0 {
			return newError(KindInsufficientTreasury, ReasonNotTreasury)
		}

		round = models.NewRound(state.CurrentRoundID + 1)
		round.Status = models.StatusOpen
		round.StartTime = now.Unix()
		round.EndTime = endTime
		round.PriceTicket.Set(price)
		round.DiscountDivisor = discountDivisor
		round.FirstTicketID = state.NextTicketID
		round.FirstTicketIDNextRound = state.NextTicketID
		round.JackpotIn.Set(state.JackpotCarry)
		round.JpTreasury.Set(state.JackpotCarry)
		round.EscrowBalanceIn.Set(state.EscrowBalance)
		round.EscrowBalance.Set(state.EscrowBalance)
		round.EscrowCreditIn.Set(state.EscrowCredit)
		round.EscrowCredit.Set(state.EscrowCredit)

		state.CurrentRoundID = round.ID
		state.JackpotCarry.SetInt64(0)

		if err := tx.PutRound(ctx, round); err != nil {
			return err
		}
		return tx.PutState(ctx, state)
	})
	if err != nil {
		return models.Round{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"round_id":   round.ID,
		"end_time":   round.EndTime,
		"price":      round.PriceTicket.String(),
		"jackpot_in": round.JackpotIn.String(),
	}).Info("lottery opened")
	s.events.PublishLotteryOpen(ctx, round)
	return round, nil
}

// CloseLottery stops sales of an open round once its end time has passed. Sources that
// support per-round requests are asked for a fresh result; the close is undone if that fails.
func (s *Service) CloseLottery(ctx context.Context, caller common.Address, roundID uint64) (err error) {
	ctx, done := s.begin(ctx, "close_lottery", attribute.Int64("round_id", int64(roundID)))
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.require(access.RoleOperator, caller); err != nil {
		return err
	}

	var closed models.Round
	err = s.update(ctx, func(tx database.Tx) error {
		r, err := loadRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusOpen {
			return stateError(roundID, ReasonNotOpen)
		}
		if s.now().Unix() <= r.EndTime {
			return stateError(roundID, ReasonNotOver)
		}

		state, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		r.Status = models.StatusClose
		r.FirstTicketIDNextRound = state.NextTicketID
		closed = r
		return tx.PutRound(ctx, r)
	})
	if err != nil {
		return err
	}

	if requester, ok := s.random.(randomness.Requester); ok {
		if rerr := requester.RequestResult(ctx, roundID); rerr != nil {
			err := s.compensate(ctx, "close_lottery", fmt.Errorf("failed to request randomness: %w", rerr), func(tx database.Tx) error {
				r, err := tx.Round(ctx, roundID)
				if err != nil {
					return err
				}
				if r.Status != models.StatusClose {
					return stateError(roundID, ReasonNotClosed)
				}
				r.Status = models.StatusOpen
				return tx.PutRound(ctx, r)
			})
			s.invalidateRound(ctx, roundID)
			return err
		}
	}

	s.invalidateRound(ctx, roundID)
	s.logger.WithFields(logrus.Fields{
		"round_id":       roundID,
		"ticket_count":   closed.TicketCount,
		"amount_total":   closed.AmountTotal.String(),
		"next_ticket_id": closed.FirstTicketIDNextRound,
	}).Info("lottery closed")
	s.events.PublishLotteryClose(ctx, closed)
	return nil
}

// InjectFunds pulls the configured injection from the injector into the jackpot carried to
// the next round. The injection is recorded as escrow credit, repaid by later guarantee-fund
// contributions.
func (s *Service) InjectFunds(ctx context.Context, caller common.Address) (amount *big.Int, err error) {
	ctx, done := s.begin(ctx, "inject_funds")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.require(access.RoleInjector, caller); err != nil {
		return nil, err
	}

	var roundID uint64
	err = s.update(ctx, func(tx database.Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		roundID = state.CurrentRoundID
		if roundID != 0 {
			current, err := loadRound(ctx, tx, roundID)
			if err != nil {
				return err
			}
			if current.Status == models.StatusOpen || current.Status == models.StatusClose {
				return stateError(roundID, ReasonRunning)
			}
		}

		amount = new(big.Int).Set(s.settings.InjectionAmount)
		state.JackpotCarry.Add(state.JackpotCarry, amount)
		state.EscrowCredit.Add(state.EscrowCredit, amount)
		return tx.PutState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	if terr := s.ledger.TransferFrom(ctx, s.address, caller, s.address, amount); terr != nil {
		return nil, s.compensate(ctx, "inject_funds", fmt.Errorf("failed to pull injection: %w", terr), func(tx database.Tx) error {
			state, err := tx.State(ctx)
			if err != nil {
				return err
			}
			state.JackpotCarry.Sub(state.JackpotCarry, amount)
			state.EscrowCredit.Sub(state.EscrowCredit, amount)
			return tx.PutState(ctx, state)
		})
	}

	s.logger.WithFields(logrus.Fields{
		"injector": caller.Hex(),
		"amount":   amount.String(),
		"round_id": roundID,
	}).Info("funds injected")
	s.events.PublishLotteryInjection(ctx, roundID, amount)
	return amount, nil
}

// SetAdminAddresses replaces the operator, treasury and injector accounts and the
// affiliate receiver.
func (s *Service) SetAdminAddresses(ctx context.Context, caller common.Address, req models.AdminAddressesRequest) (err error) {
	_, done := s.begin(ctx, "set_admin_addresses")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.require(access.RoleAdmin, caller); err != nil {
		return err
	}
	zero := common.Address{}
	if req.Operator == zero || req.Treasury == zero || req.Injector == zero || req.AffiliateReceiver == zero {
		return validationError(ReasonZeroAddress)
	}

	s.mu.Lock()
	s.roles.Replace(access.RoleOperator, req.Operator)
	s.roles.Replace(access.RoleTreasury, req.Treasury)
	s.roles.Replace(access.RoleInjector, req.Injector)
	s.affiliateReceiver = req.AffiliateReceiver
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"operator":           req.Operator.Hex(),
		"treasury":           req.Treasury.Hex(),
		"injector":           req.Injector.Hex(),
		"affiliate_receiver": req.AffiliateReceiver.Hex(),
	}).Info("admin addresses updated")
	s.events.PublishAdminUpdated(ctx, "addresses", req)
	return nil
}

// SetTicketValues changes the accepted ticket price range and the purchase batch limit.
func (s *Service) SetTicketValues(ctx context.Context, caller common.Address, req models.TicketValuesRequest) (err error) {
	_, done := s.begin(ctx, "set_ticket_values")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if req.MinPriceTicket == nil || req.MaxPriceTicket == nil ||
		req.MinPriceTicket.Sign() <= 0 || req.MinPriceTicket.Cmp(req.MaxPriceTicket) > 0 {
		return validationError("minPrice must be <= maxPrice")
	}
	if req.MaxTicketsPerBuy <= 0 {
		return validationError("Must be > 0")
	}

	s.mu.Lock()
	s.settings.MinPriceTicket = new(big.Int).Set(req.MinPriceTicket)
	s.settings.MaxPriceTicket = new(big.Int).Set(req.MaxPriceTicket)
	s.settings.MaxTicketsPerBuy = req.MaxTicketsPerBuy
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"min_price":   req.MinPriceTicket.String(),
		"max_price":   req.MaxPriceTicket.String(),
		"max_per_buy": req.MaxTicketsPerBuy,
	}).Info("ticket values updated")
	s.events.PublishAdminUpdated(ctx, "ticket_values", req)
	return nil
}
