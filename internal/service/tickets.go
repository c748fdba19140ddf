package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"bonanza-lottery/internal/coupon"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/referral"
	"bonanza-lottery/internal/validation"
)

// commission is a referral amount accrued to one account by a purchase.
type commission struct {
	account common.Address
	amount  *big.Int
}

// BuyTickets sells a batch of tickets in the current round. The buyer is charged the
// volume-discounted price less any coupon discount; a referral code diverts part of the
// charge into commissions. Effects are committed before the payment is pulled and are
// reverted if it fails.
func (s *Service) BuyTickets(ctx context.Context, caller common.Address, roundID uint64, req models.BuyTicketsRequest) (receipt models.PurchaseReceipt, err error) {
	ctx, done := s.begin(ctx, "buy_tickets",
		attribute.Int64("round_id", int64(roundID)),
		attribute.Int("tickets", len(req.Tickets)),
	)
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return models.PurchaseReceipt{}, err
	}
	defer release()

	var (
		ticketIDs   []uint64
		commissions []commission
		usedCoupon  *models.Coupon
	)

	err = s.update(ctx, func(tx database.Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		if roundID == 0 || roundID != state.CurrentRoundID {
			return stateError(roundID, ReasonNotOpen)
		}
		r, err := loadRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Status != models.StatusOpen {
			return stateError(roundID, ReasonNotOpen)
		}
		now := s.now()
		if now.Unix() > r.EndTime {
			return stateError(roundID, ReasonOver)
		}

		n := len(req.Tickets)
		if n == 0 {
			return validationError(ReasonNoTicket)
		}
		if n > s.settings.MaxTicketsPerBuy {
			return validationError(ReasonTooManyTickets)
		}
		combos, err := validation.ValidateTickets(req.Tickets)
		if err != nil {
			return ticketValidationError(err)
		}

		gross := new(big.Int).Mul(r.PriceTicket, big.NewInt(int64(n)))
		charged := CalculateTotalPriceForBulkTickets(r.DiscountDivisor, r.PriceTicket, uint64(n))

		if req.Coupon != nil && !req.Coupon.IsEmpty() {
			discount, err := s.applyCoupon(ctx, *req.Coupon, charged)
			if err != nil {
				return err
			}
			charged.Sub(charged, discount)
			c := *req.Coupon
			usedCoupon = &c
		}

		referralTotal := new(big.Int)
		if req.RefCode != (common.Hash{}) {
			commissions, err = s.referralCommissions(ctx, req.RefCode, charged)
			if err != nil {
				return err
			}
			for _, c := range commissions {
				bal, err := tx.ReferralBalance(ctx, c.account)
				if err != nil {
					return err
				}
				if err := tx.PutReferralBalance(ctx, c.account, bal.Add(bal, c.amount)); err != nil {
					return err
				}
				referralTotal.Add(referralTotal, c.amount)
			}
		}

		tickets := make([]models.Ticket, n)
		ticketIDs = make([]uint64, n)
		for i, combo := range combos {
			id := state.NextTicketID + uint64(i)
			tickets[i] = models.Ticket{
				ID:      id,
				RoundID: roundID,
				Owner:   caller,
				Numbers: combo,
				RefCode: req.RefCode,
			}
			ticketIDs[i] = id
		}
		if err := tx.PutTickets(ctx, tickets); err != nil {
			return err
		}

		state.NextTicketID += uint64(n)
		r.TicketCount += uint64(n)
		r.FirstTicketIDNextRound = state.NextTicketID
		r.AmountTotal.Add(r.AmountTotal, gross)
		r.AmountUsed.Add(r.AmountUsed, new(big.Int).Sub(gross, charged))
		r.AmountCollected.Add(r.AmountCollected, new(big.Int).Sub(charged, referralTotal))
		r.ReferralAccrued.Add(r.ReferralAccrued, referralTotal)

		receipt = models.PurchaseReceipt{
			Buyer:     caller,
			RoundID:   roundID,
			TicketIDs: ticketIDs,
			Gross:     gross,
			Charged:   charged,
			Discount:  new(big.Int).Sub(gross, charged),
			Referral:  referralTotal,
			RefCode:   req.RefCode,
		}

		if err := tx.PutRound(ctx, r); err != nil {
			return err
		}
		return tx.PutState(ctx, state)
	})
	if err != nil {
		if usedCoupon != nil {
			s.releaseCoupon(ctx, *usedCoupon)
		}
		return models.PurchaseReceipt{}, err
	}

	if terr := s.ledger.TransferFrom(ctx, s.address, caller, s.address, receipt.Charged); terr != nil {
		if usedCoupon != nil {
			s.releaseCoupon(ctx, *usedCoupon)
		}
		return models.PurchaseReceipt{}, s.compensate(ctx, "buy_tickets", fmt.Errorf("failed to collect payment: %w", terr), func(tx database.Tx) error {
			return s.revertPurchase(ctx, tx, receipt, commissions)
		})
	}

	metrics.RecordTicketsSold(len(ticketIDs), receipt.Charged)
	s.logger.WithFields(logrus.Fields{
		"buyer":    caller.Hex(),
		"round_id": roundID,
		"count":    len(ticketIDs),
		"charged":  receipt.Charged.String(),
		"ref_code": req.RefCode.Hex(),
	}).Info("tickets purchased")
	s.events.PublishTicketsPurchase(ctx, caller, roundID, len(ticketIDs), req.RefCode)
	return receipt, nil
}

// revertPurchase is the inverse delta of a committed purchase.
func (s *Service) revertPurchase(ctx context.Context, tx database.Tx, receipt models.PurchaseReceipt, commissions []commission) error {
	if err := tx.DeleteTickets(ctx, receipt.TicketIDs); err != nil {
		return err
	}
	r, err := tx.Round(ctx, receipt.RoundID)
	if err != nil {
		return err
	}
	n := uint64(len(receipt.TicketIDs))
	r.TicketCount -= n
	r.AmountTotal.Sub(r.AmountTotal, receipt.Gross)
	r.AmountUsed.Sub(r.AmountUsed, receipt.Discount)
	r.AmountCollected.Sub(r.AmountCollected, new(big.Int).Sub(receipt.Charged, receipt.Referral))
	r.ReferralAccrued.Sub(r.ReferralAccrued, receipt.Referral)
	if err := tx.PutRound(ctx, r); err != nil {
		return err
	}
	for _, c := range commissions {
		bal, err := tx.ReferralBalance(ctx, c.account)
		if err != nil {
			return err
		}
		if err := tx.PutReferralBalance(ctx, c.account, bal.Sub(bal, c.amount)); err != nil {
			return err
		}
	}
	return nil
}

// applyCoupon verifies and redeems c against charge and returns the discount.
func (s *Service) applyCoupon(ctx context.Context, c models.Coupon, charge *big.Int) (*big.Int, error) {
	if s.coupons == nil || !s.features.IsEnabled(features.FeatureCoupons) {
		return nil, newError(KindCoupon, ReasonCouponsDisabled)
	}
	discount, err := s.coupons.Verify(c, charge, s.now())
	if err != nil {
		return nil, &Error{Kind: KindCoupon, Reason: couponReason(err), Err: err}
	}
	if err := s.redeemer.Redeem(ctx, c); err != nil {
		return nil, &Error{Kind: KindCoupon, Reason: couponReason(err), Err: err}
	}
	return discount, nil
}

func (s *Service) releaseCoupon(ctx context.Context, c models.Coupon) {
	if err := s.redeemer.Release(context.WithoutCancel(ctx), c); err != nil {
		s.logger.WithField("coupon_id", c.ID.String()).WithError(err).Error("failed to release coupon")
	}
}

func couponReason(err error) string {
	switch {
	case errors.Is(err, coupon.ErrExpired):
		return "CouponExpired"
	case errors.Is(err, coupon.ErrBelowMinimum):
		return "CouponBelowMinimum"
	case errors.Is(err, coupon.ErrBadSignature):
		return "BadSignature"
	case errors.Is(err, coupon.ErrRedeemed):
		return "CouponRedeemed"
	default:
		return "CouponRejected"
	}
}

// referralCommissions resolves code and splits the commission pool of charged.
func (s *Service) referralCommissions(ctx context.Context, code common.Hash, charged *big.Int) ([]commission, error) {
	if !s.features.IsEnabled(features.FeatureReferrals) {
		return nil, validationError(ReasonReferralsDisabled)
	}
	link, err := s.referrals.Lookup(ctx, code)
	if errors.Is(err, referral.ErrUnknownCode) {
		return nil, validationError(ReasonUnknownReferral)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up referral code: %w", err)
	}

	var agentRate uint32
	if link.MainAgent != (common.Address{}) {
		agentRate, err = s.referrals.MainAgentRate(ctx, link.MainAgent)
		if err != nil {
			return nil, fmt.Errorf("failed to look up agent rate: %w", err)
		}
	}

	pool := applyRate(charged, s.settings.ReferralRate)
	ownerCut, agentCut := referral.Split(pool, link, agentRate)

	var out []commission
	if ownerCut.Sign() > 0 {
		out = append(out, commission{account: link.Owner, amount: ownerCut})
	}
	if agentCut.Sign() > 0 {
		out = append(out, commission{account: link.MainAgent, amount: agentCut})
	}
	return out, nil
}

func ticketValidationError(err error) error {
	var ve *validation.ValidationError
	if errors.As(err, &ve) {
		return &Error{Kind: KindValidation, Reason: ve.Message, Err: err}
	}
	return &Error{Kind: KindValidation, Reason: err.Error()}
}
