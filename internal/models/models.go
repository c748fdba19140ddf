package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	NumbersPerTicket = 6
	MinNumber        = 1
	MaxNumber        = 45

	// Brackets is the number of prize classes. Bracket i pays tickets with i+3 matches.
	Brackets       = 4
	JackpotBracket = Brackets - 1
)

// RoundStatus is the lifecycle phase of a round.
type RoundStatus uint8

const (
	StatusPending RoundStatus = iota
	StatusOpen
	StatusClose
	StatusClaimable
)

var statusNames = [...]string{"pending", "open", "close", "claimable"}

func (s RoundStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

func (s RoundStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RoundStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = RoundStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown round status %q", text)
}

// Numbers is a ticket or winning combination: six distinct values in [1,45], ascending.
type Numbers [NumbersPerTicket]uint8

// Matches returns how many values of n also appear in other.
func (n Numbers) Matches(other Numbers) int {
	var seen [MaxNumber + 1]bool
	for _, v := range other {
		if int(v) <= MaxNumber {
			seen[v] = true
		}
	}
	count := 0
	for _, v := range n {
		if int(v) <= MaxNumber && seen[v] {
			count++
		}
	}
	return count
}

// Bracket returns the prize bracket of n against the drawn combination.
// ok is false when the ticket matches fewer than three numbers.
func (n Numbers) Bracket(final Numbers) (bracket int, ok bool) {
	matches := n.Matches(final)
	if matches < NumbersPerTicket-JackpotBracket {
		return 0, false
	}
	return matches - (NumbersPerTicket - JackpotBracket), true
}

func (n Numbers) String() string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}

func (n Numbers) MarshalJSON() ([]byte, error) {
	return []byte("[" + n.String() + "]"), nil
}

func (n *Numbers) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	if len(values) != NumbersPerTicket {
		return fmt.Errorf("expected %d numbers, got %d", NumbersPerTicket, len(values))
	}
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("number %d out of range", v)
		}
		n[i] = uint8(v)
	}
	return nil
}

// Round is one lottery instance. Amounts are in the token's smallest unit.
type Round struct {
	ID              uint64      `json:"id"`
	Status          RoundStatus `json:"status"`
	StartTime       int64       `json:"start_time"`
	EndTime         int64       `json:"end_time"`
	PriceTicket     *big.Int    `json:"price_ticket"`
	DiscountDivisor uint64      `json:"discount_divisor"`

	FirstTicketID          uint64 `json:"first_ticket_id"`
	FirstTicketIDNextRound uint64 `json:"first_ticket_id_next_round"`
	TicketCount            uint64 `json:"ticket_count"`

	AmountTotal     *big.Int `json:"amount_total"`
	AmountUsed      *big.Int `json:"amount_used"`
	AmountCollected *big.Int `json:"amount_collected"`
	ReferralAccrued *big.Int `json:"referral_accrued"`

	JackpotIn       *big.Int `json:"jackpot_in"`
	EscrowBalanceIn *big.Int `json:"escrow_balance_in"`
	EscrowCreditIn  *big.Int `json:"escrow_credit_in"`

	JpTreasury     *big.Int `json:"jp_treasury"`
	EscrowBalance  *big.Int `json:"escrow_balance"`
	EscrowCredit   *big.Int `json:"escrow_credit"`
	TreasuryShare  *big.Int `json:"treasury_share"`
	AffiliatePrize *big.Int `json:"affiliate_prize"`

	FinalNumber  Numbers            `json:"final_number"`
	PrizeAmounts [Brackets]*big.Int `json:"prize_amounts"`
	TicketsWin   [Brackets]uint64   `json:"tickets_win"`
	ClaimedWin   [Brackets]uint64   `json:"claimed_win"`
}

// NewRound returns a round with every amount initialised to zero.
func NewRound(id uint64) Round {
	r := Round{
		ID:              id,
		PriceTicket:     new(big.Int),
		AmountTotal:     new(big.Int),
		AmountUsed:      new(big.Int),
		AmountCollected: new(big.Int),
		ReferralAccrued: new(big.Int),
		JackpotIn:       new(big.Int),
		EscrowBalanceIn: new(big.Int),
		EscrowCreditIn:  new(big.Int),
		JpTreasury:      new(big.Int),
		EscrowBalance:   new(big.Int),
		EscrowCredit:    new(big.Int),
		TreasuryShare:   new(big.Int),
		AffiliatePrize:  new(big.Int),
	}
	for i := range r.PrizeAmounts {
		r.PrizeAmounts[i] = new(big.Int)
	}
	return r
}

// Clone returns a deep copy; amounts of the copy never alias the original.
func (r Round) Clone() Round {
	c := r
	c.PriceTicket = cloneInt(r.PriceTicket)
	c.AmountTotal = cloneInt(r.AmountTotal)
	c.AmountUsed = cloneInt(r.AmountUsed)
	c.AmountCollected = cloneInt(r.AmountCollected)
	c.ReferralAccrued = cloneInt(r.ReferralAccrued)
	c.JackpotIn = cloneInt(r.JackpotIn)
	c.EscrowBalanceIn = cloneInt(r.EscrowBalanceIn)
	c.EscrowCreditIn = cloneInt(r.EscrowCreditIn)
	c.JpTreasury = cloneInt(r.JpTreasury)
	c.EscrowBalance = cloneInt(r.EscrowBalance)
	c.EscrowCredit = cloneInt(r.EscrowCredit)
	c.TreasuryShare = cloneInt(r.TreasuryShare)
	c.AffiliatePrize = cloneInt(r.AffiliatePrize)
	for i := range c.PrizeAmounts {
		c.PrizeAmounts[i] = cloneInt(r.PrizeAmounts[i])
	}
	return c
}

// Ticket is a purchased combination. RefCode is the zero hash for unreferred tickets.
type Ticket struct {
	ID      uint64         `json:"id"`
	RoundID uint64         `json:"round_id"`
	Owner   common.Address `json:"owner"`
	Numbers Numbers        `json:"numbers"`
	RefCode common.Hash    `json:"ref_code"`
	Claimed bool           `json:"claimed"`
}

// Referred reports whether the ticket was bought through a referral code.
func (t Ticket) Referred() bool {
	return t.RefCode != (common.Hash{})
}

// Coupon is a signed discount voucher. Saleoff is in basis points, Start and End are unix
// seconds with zero meaning unrestricted, MaxSaleOff of zero means uncapped.
type Coupon struct {
	ID         *big.Int       `json:"id"`
	Saleoff    uint64         `json:"saleoff"`
	MaxSaleOff *big.Int       `json:"max_sale_off"`
	MinPayment *big.Int       `json:"min_payment"`
	Start      uint64         `json:"start"`
	End        uint64         `json:"end"`
	Owner      common.Address `json:"owner"`
	Sig        hexutil.Bytes  `json:"sig"`
}

// IsEmpty reports whether no coupon was supplied.
func (c Coupon) IsEmpty() bool {
	return c.ID == nil || c.ID.Sign() == 0
}

// ReferralLink maps a code to its revenue share (basis points), owner and main agent.
type ReferralLink struct {
	Code      common.Hash    `json:"code"`
	Percent   uint32         `json:"percent"`
	Owner     common.Address `json:"owner"`
	MainAgent common.Address `json:"main_agent"`
}

// EngineState is the cross-round bookkeeping carried between rounds.
type EngineState struct {
	CurrentRoundID  uint64   `json:"current_round_id"`
	NextTicketID    uint64   `json:"next_ticket_id"`
	JackpotCarry    *big.Int `json:"jackpot_carry"`
	EscrowCredit    *big.Int `json:"escrow_credit"`
	EscrowBalance   *big.Int `json:"escrow_balance"`
	TreasuryBalance *big.Int `json:"treasury_balance"`
}

// NewEngineState returns the state of an engine that has never run a round.
func NewEngineState() EngineState {
	return EngineState{
		JackpotCarry:    new(big.Int),
		EscrowCredit:    new(big.Int),
		EscrowBalance:   new(big.Int),
		TreasuryBalance: new(big.Int),
	}
}

func (s EngineState) Clone() EngineState {
	c := s
	c.JackpotCarry = cloneInt(s.JackpotCarry)
	c.EscrowCredit = cloneInt(s.EscrowCredit)
	c.EscrowBalance = cloneInt(s.EscrowBalance)
	c.TreasuryBalance = cloneInt(s.TreasuryBalance)
	return c
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
