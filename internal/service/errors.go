package service

import (
	"fmt"
)

// Kind classifies engine failures.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindState                Kind = "StateError"
	KindInsufficientTreasury Kind = "InsufficientTreasury"
	KindCoupon               Kind = "CouponError"
	KindOwnership            Kind = "OwnershipError"
	KindAlreadyClaimed       Kind = "AlreadyClaimed"
	KindAccessControl        Kind = "AccessControl"
	KindNotFound             Kind = "NotFound"
)

// Error is returned by every rejected engine operation. Reason carries the
// user-facing message; Err the underlying cause, if any.
type Error struct {
	Kind     Kind
	Reason   string
	RoundID  uint64
	TicketID *uint64
	Err      error
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.TicketID != nil {
		msg = fmt.Sprintf("%s (ticket %d)", msg, *e.TicketID)
	}
	if e.Err != nil && e.Err.Error() != e.Reason {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, so errors.Is(err, ErrState) holds for any state error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrState                = &Error{Kind: KindState}
	ErrInsufficientTreasury = &Error{Kind: KindInsufficientTreasury}
	ErrCoupon               = &Error{Kind: KindCoupon}
	ErrOwnership            = &Error{Kind: KindOwnership}
	ErrAlreadyClaimed       = &Error{Kind: KindAlreadyClaimed}
	ErrAccessControl        = &Error{Kind: KindAccessControl}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

// Messages shared with clients and tests.
const (
	ReasonNotOpen            = "Lottery is not open"
	ReasonOver               = "Lottery is over"
	ReasonNoTicket           = "No ticket specified"
	ReasonTooManyTickets     = "Too many tickets"
	ReasonNotAscending       = "number should be asc"
	ReasonOutOfRange         = "number should in range 1-45"
	ReasonNotTreasury        = "Not enough treasury to start"
	ReasonNotClaimable       = "Lottery not claimable"
	ReasonNotOwner           = "Not the owner"
	ReasonAlreadyClaimed     = "Ticket already claimed"
	ReasonBracketExhausted   = "Prize bracket exhausted"
	ReasonNotFinished        = "Lottery not finished"
	ReasonNotOver            = "Lottery not over"
	ReasonNotClosed          = "Lottery not close"
	ReasonRunning            = "Lottery is running"
	ReasonNothingToWithdraw  = "Nothing to withdraw"
	ReasonCouponsDisabled    = "Coupons are disabled"
	ReasonReferralsDisabled  = "Referrals are disabled"
	ReasonUnknownReferral    = "Unknown referral code"
	ReasonTicketNotInLottery = "Ticket not in this lottery"
	ReasonLengthOutOfRange   = "Lottery length outside of range"
	ReasonPriceOutOfRange    = "Price outside of limits"
	ReasonZeroAddress        = "Cannot be zero address"
	ReasonLotteryNotFound    = "Lottery not found"
	ReasonTooManyWinners     = "More winners than tickets"
	ReasonReentrant          = "ReentrancyGuard: reentrant call"
	ReasonBusy               = "Engine busy"
)

func newError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func stateError(roundID uint64, reason string) *Error {
	return &Error{Kind: KindState, Reason: reason, RoundID: roundID}
}

func validationError(reason string) *Error {
	return &Error{Kind: KindValidation, Reason: reason}
}

func ticketError(kind Kind, roundID, ticketID uint64, reason string) *Error {
	id := ticketID
	return &Error{Kind: kind, Reason: reason, RoundID: roundID, TicketID: &id}
}
