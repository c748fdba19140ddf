package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/randomness"
)

// DrawFinalNumber settles a closed round: it stores the winning combination, sizes the
// per-bracket prizes from winCounts and carries the remaining pools to the next round.
func (s *Service) DrawFinalNumber(ctx context.Context, caller common.Address, roundID uint64, winCounts [models.Brackets]uint64) (round models.Round, err error) {
	ctx, done := s.begin(ctx, "draw_final_number",
		attribute.Int64("round_id", int64(roundID)),
		attribute.Int64("jackpot_winners", int64(winCounts[models.JackpotBracket])),
	)
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return models.Round{}, err
	}
	defer release()

	if err := s.require(access.RoleOperator, caller); err != nil {
		return models.Round{}, err
	}

	err = s.update(ctx, func(tx database.Tx) error {
		r, err := loadRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusClose {
			return stateError(roundID, ReasonNotClosed)
		}

		// checked per bracket so the running total cannot wrap
		var total uint64
		for _, w := range winCounts {
			if w > r.TicketCount-total {
				return &Error{Kind: KindValidation, Reason: ReasonTooManyWinners, RoundID: roundID}
			}
			total += w
		}

		result, err := s.random.CurrentResult(ctx)
		if err != nil {
			return fmt.Errorf("failed to read randomness: %w", err)
		}
		final, err := randomness.Validate(result)
		if err != nil {
			return fmt.Errorf("failed to read randomness: %w", err)
		}

		alloc := s.settings.Allocate(AllocationInput{
			Gross:           r.AmountTotal,
			Collected:       r.AmountCollected,
			Price:           r.PriceTicket,
			JackpotIn:       r.JackpotIn,
			EscrowBalanceIn: r.EscrowBalanceIn,
			EscrowCreditIn:  r.EscrowCreditIn,
			WinCounts:       winCounts,
		})

		r.FinalNumber = final
		r.TicketsWin = winCounts
		r.PrizeAmounts = alloc.PrizeAmounts
		r.AffiliatePrize = alloc.AffiliatePrize
		r.JpTreasury = alloc.JpTreasury
		r.EscrowBalance = alloc.EscrowBalance
		r.EscrowCredit = alloc.EscrowCredit
		r.TreasuryShare = alloc.TreasuryShare
		r.Status = models.StatusClaimable

		state, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		// no injection can land while a round is running, so the carries are replaced
		state.JackpotCarry.Set(alloc.JpTreasury)
		state.EscrowBalance.Set(alloc.EscrowBalance)
		state.EscrowCredit.Set(alloc.EscrowCredit)
		state.TreasuryBalance.Add(state.TreasuryBalance, alloc.TreasuryShare)

		round = r
		if err := tx.PutRound(ctx, r); err != nil {
			return err
		}
		return tx.PutState(ctx, state)
	})
	if err != nil {
		return models.Round{}, err
	}

	s.invalidateRound(ctx, roundID)
	metrics.SetJackpotCarry(round.JpTreasury)
	s.logger.WithFields(logrus.Fields{
		"round_id":       roundID,
		"final_number":   round.FinalNumber.String(),
		"win_counts":     winCounts,
		"jp_treasury":    round.JpTreasury.String(),
		"escrow_balance": round.EscrowBalance.String(),
		"escrow_credit":  round.EscrowCredit.String(),
		"treasury_share": round.TreasuryShare.String(),
	}).Info("final number drawn")
	s.events.PublishNumberDrawn(ctx, round)
	return round, nil
}
