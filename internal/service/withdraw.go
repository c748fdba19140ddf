package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/referral"
)

// WithdrawTreasury pays the accrued treasury share to the treasury account.
func (s *Service) WithdrawTreasury(ctx context.Context, caller common.Address) (amount *big.Int, err error) {
	ctx, done := s.begin(ctx, "withdraw_treasury")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.require(access.RoleTreasury, caller); err != nil {
		return nil, err
	}

	err = s.update(ctx, func(tx database.Tx) error {
		state, err := tx.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to load engine state: %w", err)
		}
		if state.TreasuryBalance.Sign() <= 0 {
			return validationError(ReasonNothingToWithdraw)
		}
		amount = new(big.Int).Set(state.TreasuryBalance)
		state.TreasuryBalance.SetInt64(0)
		return tx.PutState(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	if terr := s.ledger.Transfer(ctx, s.address, caller, amount); terr != nil {
		return nil, s.compensate(ctx, "withdraw_treasury", fmt.Errorf("failed to pay treasury: %w", terr), func(tx database.Tx) error {
			state, err := tx.State(ctx)
			if err != nil {
				return err
			}
			state.TreasuryBalance.Add(state.TreasuryBalance, amount)
			return tx.PutState(ctx, state)
		})
	}

	s.logger.WithFields(logrus.Fields{
		"treasury": caller.Hex(),
		"amount":   amount.String(),
	}).Info("treasury withdrawn")
	s.events.PublishWithdrawal(ctx, "treasury", caller, amount)
	return amount, nil
}

// WithdrawReferral pays the caller's accrued referral commissions.
func (s *Service) WithdrawReferral(ctx context.Context, caller common.Address) (amount *big.Int, err error) {
	ctx, done := s.begin(ctx, "withdraw_referral")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.update(ctx, func(tx database.Tx) error {
		bal, err := tx.ReferralBalance(ctx, caller)
		if err != nil {
			return fmt.Errorf("failed to load referral balance: %w", err)
		}
		if bal.Sign() <= 0 {
			return validationError(ReasonNothingToWithdraw)
		}
		amount = bal
		return tx.PutReferralBalance(ctx, caller, new(big.Int))
	})
	if err != nil {
		return nil, err
	}

	if terr := s.ledger.Transfer(ctx, s.address, caller, amount); terr != nil {
		return nil, s.compensate(ctx, "withdraw_referral", fmt.Errorf("failed to pay referral: %w", terr), func(tx database.Tx) error {
			bal, err := tx.ReferralBalance(ctx, caller)
			if err != nil {
				return err
			}
			return tx.PutReferralBalance(ctx, caller, bal.Add(bal, amount))
		})
	}

	s.logger.WithFields(logrus.Fields{
		"account": caller.Hex(),
		"amount":  amount.String(),
	}).Info("referral withdrawn")
	s.events.PublishWithdrawal(ctx, "referral", caller, amount)
	return amount, nil
}

// CreateReferralLink registers code for the caller.
func (s *Service) CreateReferralLink(ctx context.Context, caller common.Address, req models.CreateLinkRequest) (link models.ReferralLink, err error) {
	ctx, done := s.begin(ctx, "create_referral_link")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return models.ReferralLink{}, err
	}
	defer release()

	link, err = s.referrals.CreateLink(ctx, caller, req.Code, req.Percent, req.MainAgent)
	if err != nil {
		return models.ReferralLink{}, referralError(err)
	}
	s.logger.WithFields(logrus.Fields{
		"owner":      caller.Hex(),
		"code":       link.Code.Hex(),
		"percent":    link.Percent,
		"main_agent": link.MainAgent.Hex(),
	}).Info("referral link created")
	return link, nil
}

// UpdateMainAgentRate sets the commission rate of a main agent.
func (s *Service) UpdateMainAgentRate(ctx context.Context, caller common.Address, req models.MainAgentRateRequest) (err error) {
	ctx, done := s.begin(ctx, "update_main_agent_rate")
	defer func() { done(err) }()
	ctx, release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.require(access.RoleAdmin, caller); err != nil {
		return err
	}
	if req.Agent == (common.Address{}) {
		return validationError(ReasonZeroAddress)
	}
	if err := s.referrals.UpdateMainAgentRate(ctx, req.Agent, req.Rate); err != nil {
		return referralError(err)
	}
	s.logger.WithFields(logrus.Fields{
		"agent": req.Agent.Hex(),
		"rate":  req.Rate,
	}).Info("main agent rate updated")
	s.events.PublishAdminUpdated(ctx, "main_agent_rate", req)
	return nil
}

// ReferralLinks lists the links owned by owner.
func (s *Service) ReferralLinks(ctx context.Context, owner common.Address) []models.ReferralLink {
	return s.referrals.Links(ctx, owner)
}

func referralError(err error) error {
	switch {
	case errors.Is(err, referral.ErrCodeUsed),
		errors.Is(err, referral.ErrTooManyLinks),
		errors.Is(err, referral.ErrMainAgentNotSet),
		errors.Is(err, referral.ErrRateOutOfRange),
		errors.Is(err, referral.ErrPercentRange):
		return &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
	default:
		return fmt.Errorf("failed to update referral registry: %w", err)
	}
}
