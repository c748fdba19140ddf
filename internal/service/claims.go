package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/models"
)

// claimEffects records what a committed claim changed so it can be undone.
type claimEffects struct {
	ticketIDs []uint64
	brackets  [models.Brackets]uint64
	affiliate *big.Int
	receiver  common.Address
}

// ClaimTickets pays the caller the prizes of their winning tickets in a claimable round.
// Every listed ticket is marked claimed, including losing ones. A jackpot ticket also
// releases the affiliate prize: to the caller when it was bought with a referral code,
// otherwise to the affiliate receiver's referral balance.
func (s *Service) ClaimTickets(ctx context.Context, caller common.Address, roundID uint64, ticketIDs []uint64) (receipt models.ClaimReceipt, err error) {
	ctx, done := s.begin(ctx, "claim_tickets",
		attribute.Int64("round_id", int64(roundID)),
		attribute.Int("tickets", len(ticketIDs)),
	)
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return models.ClaimReceipt{}, err
	}
	defer release()

	fx := claimEffects{affiliate: new(big.Int)}
	amount := new(big.Int)

	err = s.update(ctx, func(tx database.Tx) error {
		r, err := loadRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusClaimable {
			return stateError(roundID, ReasonNotClaimable)
		}
		if len(ticketIDs) == 0 {
			return validationError(ReasonNoTicket)
		}
		if len(ticketIDs) > s.settings.MaxTicketsPerClaim {
			return validationError(ReasonTooManyTickets)
		}

		seen := make(map[uint64]bool, len(ticketIDs))
		claimed := make([]models.Ticket, 0, len(ticketIDs))
		for _, id := range ticketIDs {
			t, err := tx.Ticket(ctx, id)
			if errors.Is(err, database.ErrNotFound) {
				return ticketError(KindValidation, roundID, id, ReasonTicketNotInLottery)
			}
			if err != nil {
				return fmt.Errorf("failed to load ticket %d: %w", id, err)
			}
			if t.RoundID != roundID {
				return ticketError(KindValidation, roundID, id, ReasonTicketNotInLottery)
			}
			if t.Owner != caller {
				return ticketError(KindOwnership, roundID, id, ReasonNotOwner)
			}
			if t.Claimed || seen[id] {
				return ticketError(KindAlreadyClaimed, roundID, id, ReasonAlreadyClaimed)
			}
			seen[id] = true

			if b, ok := t.Numbers.Bracket(r.FinalNumber); ok && r.TicketsWin[b] > 0 {
				if r.ClaimedWin[b] >= r.TicketsWin[b] {
					return ticketError(KindState, roundID, id, ReasonBracketExhausted)
				}
				r.ClaimedWin[b]++
				fx.brackets[b]++
				amount.Add(amount, r.PrizeAmounts[b])

				if b == models.JackpotBracket && r.AffiliatePrize.Sign() > 0 {
					if t.Referred() {
						amount.Add(amount, r.AffiliatePrize)
					} else {
						fx.affiliate.Add(fx.affiliate, r.AffiliatePrize)
					}
				}
			}

			t.Claimed = true
			claimed = append(claimed, t)
		}

		if fx.affiliate.Sign() > 0 {
			fx.receiver = s.affiliateReceiver
			if fx.receiver == (common.Address{}) {
				// nobody to hold it yet; the treasury keeps the affiliate prize
				state, err := tx.State(ctx)
				if err != nil {
					return fmt.Errorf("failed to load engine state: %w", err)
				}
				state.TreasuryBalance.Add(state.TreasuryBalance, fx.affiliate)
				if err := tx.PutState(ctx, state); err != nil {
					return err
				}
			} else {
				bal, err := tx.ReferralBalance(ctx, fx.receiver)
				if err != nil {
					return err
				}
				if err := tx.PutReferralBalance(ctx, fx.receiver, bal.Add(bal, fx.affiliate)); err != nil {
					return err
				}
			}
		}

		fx.ticketIDs = ticketIDs
		if err := tx.PutTickets(ctx, claimed); err != nil {
			return err
		}
		return tx.PutRound(ctx, r)
	})
	if err != nil {
		return models.ClaimReceipt{}, err
	}

	if amount.Sign() > 0 {
		if terr := s.ledger.Transfer(ctx, s.address, caller, amount); terr != nil {
			err := s.compensate(ctx, "claim_tickets", fmt.Errorf("failed to pay prizes: %w", terr), func(tx database.Tx) error {
				return s.revertClaim(ctx, tx, roundID, fx)
			})
			s.invalidateRound(ctx, roundID)
			return models.ClaimReceipt{}, err
		}
	}

	s.invalidateRound(ctx, roundID)
	metrics.RecordPrizesPaid(amount)
	s.logger.WithFields(logrus.Fields{
		"claimer":  caller.Hex(),
		"round_id": roundID,
		"count":    len(ticketIDs),
		"amount":   amount.String(),
	}).Info("tickets claimed")
	s.events.PublishTicketsClaim(ctx, caller, amount, roundID, len(ticketIDs))

	return models.ClaimReceipt{
		Claimer: caller,
		RoundID: roundID,
		Amount:  amount,
		Count:   len(ticketIDs),
	}, nil
}

// revertClaim is the inverse delta of a committed claim.
func (s *Service) revertClaim(ctx context.Context, tx database.Tx, roundID uint64, fx claimEffects) error {
	tickets := make([]models.Ticket, 0, len(fx.ticketIDs))
	for _, id := range fx.ticketIDs {
		t, err := tx.Ticket(ctx, id)
		if err != nil {
			return err
		}
		t.Claimed = false
		tickets = append(tickets, t)
	}
	if err := tx.PutTickets(ctx, tickets); err != nil {
		return err
	}

	r, err := tx.Round(ctx, roundID)
	if err != nil {
		return err
	}
	for b, n := range fx.brackets {
		r.ClaimedWin[b] -= n
	}
	if err := tx.PutRound(ctx, r); err != nil {
		return err
	}

	if fx.affiliate.Sign() == 0 {
		return nil
	}
	if fx.receiver == (common.Address{}) {
		state, err := tx.State(ctx)
		if err != nil {
			return err
		}
		state.TreasuryBalance.Sub(state.TreasuryBalance, fx.affiliate)
		return tx.PutState(ctx, state)
	}
	bal, err := tx.ReferralBalance(ctx, fx.receiver)
	if err != nil {
		return err
	}
	return tx.PutReferralBalance(ctx, fx.receiver, bal.Sub(bal, fx.affiliate))
}
