package service

import (
	"math/big"
	"time"

	"bonanza-lottery/internal/models"
)

// BasisPoints is the denominator of every rate in Settings.
const BasisPoints = 10000

var bp = big.NewInt(BasisPoints)

// Settings are the engine constants. Amounts are in the token's smallest unit, rates in
// basis points.
type Settings struct {
	MinJackpotPrize *big.Int
	InjectionAmount *big.Int

	MinRoundLength time.Duration
	MaxRoundLength time.Duration
	MinPriceTicket *big.Int
	MaxPriceTicket *big.Int

	MaxTicketsPerBuy   int
	MaxTicketsPerClaim int

	JackpotRate           uint64
	GuaranteeFundRate     uint64
	AffiliateRate         uint64
	ReferralRate          uint64
	FirstPrizeRate        uint64
	SecondPrizeMultiplier uint64
	ThirdPrizeMultiplier  uint64
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// DefaultSettings returns the production constants for an 18-decimal token.
func DefaultSettings() Settings {
	return Settings{
		MinJackpotPrize:       tokens(1200),
		InjectionAmount:       tokens(1200),
		MinRoundLength:        4*time.Hour - 5*time.Minute,
		MaxRoundLength:        4*24*time.Hour + 5*time.Minute,
		MinPriceTicket:        tokens(1),
		MaxPriceTicket:        tokens(100),
		MaxTicketsPerBuy:      1000,
		MaxTicketsPerClaim:    1000,
		JackpotRate:           2500,
		GuaranteeFundRate:     2000,
		AffiliateRate:         500,
		ReferralRate:          1000,
		FirstPrizeRate:        287,
		SecondPrizeMultiplier: 30000,
		ThirdPrizeMultiplier:  3000,
	}
}

// Clone returns a copy whose amounts do not alias s.
func (s Settings) Clone() Settings {
	c := s
	c.MinJackpotPrize = new(big.Int).Set(s.MinJackpotPrize)
	c.InjectionAmount = new(big.Int).Set(s.InjectionAmount)
	c.MinPriceTicket = new(big.Int).Set(s.MinPriceTicket)
	c.MaxPriceTicket = new(big.Int).Set(s.MaxPriceTicket)
	return c
}

func applyRate(amount *big.Int, rate uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(rate))
	return out.Quo(out, bp)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// CalculateTotalPriceForBulkTickets prices n tickets with the volume discount: when
// 0 < n ≤ divisor the gross is scaled by (divisor + 1 − n) / divisor.
func CalculateTotalPriceForBulkTickets(divisor uint64, price *big.Int, n uint64) *big.Int {
	gross := new(big.Int).Mul(price, new(big.Int).SetUint64(n))
	if divisor == 0 || n == 0 || n > divisor {
		return gross
	}
	charged := new(big.Int).Mul(gross, new(big.Int).SetUint64(divisor+1-n))
	return charged.Quo(charged, new(big.Int).SetUint64(divisor))
}

// AllocationInput is the frozen state of a closed round.
type AllocationInput struct {
	Gross           *big.Int
	Collected       *big.Int
	Price           *big.Int
	JackpotIn       *big.Int
	EscrowBalanceIn *big.Int
	EscrowCreditIn  *big.Int
	WinCounts       [models.Brackets]uint64
}

// Allocation is the outcome of settling a round.
type Allocation struct {
	PrizeAmounts   [models.Brackets]*big.Int
	AffiliatePrize *big.Int
	JpTreasury     *big.Int
	EscrowBalance  *big.Int
	EscrowCredit   *big.Int
	TreasuryShare  *big.Int
}

// Allocate splits a round's revenue and the inherited pools into prizes, the guarantee
// fund, the carried jackpot and the treasury share. The result always satisfies
//
//	treasury + Σ prize[i]·wins[i] + affiliatePrize·wins[3] + jpTreasury + escrowBalance
//	  = collected + jackpotIn + escrowBalanceIn
func (s Settings) Allocate(in AllocationInput) Allocation {
	out := Allocation{AffiliatePrize: new(big.Int)}
	for i := range out.PrizeAmounts {
		out.PrizeAmounts[i] = new(big.Int)
	}

	jpContribution := applyRate(in.Gross, s.JackpotRate)
	escrowContribution := applyRate(in.Gross, s.GuaranteeFundRate)
	affiliatePool := applyRate(in.Gross, s.AffiliateRate)

	// guarantee fund repays the injected credit first, the surplus feeds the pot
	repay := minInt(escrowContribution, in.EscrowCreditIn)
	out.EscrowCredit = new(big.Int).Sub(in.EscrowCreditIn, repay)
	out.EscrowBalance = new(big.Int).Add(in.EscrowBalanceIn, repay)
	surplus := new(big.Int).Sub(escrowContribution, repay)

	pot := new(big.Int).Add(in.JackpotIn, jpContribution)
	pot.Add(pot, surplus)

	jackpotWinners := new(big.Int).SetUint64(in.WinCounts[models.JackpotBracket])
	affiliateAllocated := new(big.Int)
	if jackpotWinners.Sign() > 0 {
		out.AffiliatePrize.Quo(affiliatePool, jackpotWinners)
		affiliateAllocated.Mul(out.AffiliatePrize, jackpotWinners)
	}

	treasury := new(big.Int).Sub(in.Collected, jpContribution)
	treasury.Sub(treasury, escrowContribution)
	treasury.Sub(treasury, affiliateAllocated)

	if treasury.Sign() < 0 && jackpotWinners.Sign() > 0 {
		remaining := new(big.Int).Add(affiliateAllocated, treasury)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		out.AffiliatePrize.Quo(remaining, jackpotWinners)
		reallocated := new(big.Int).Mul(out.AffiliatePrize, jackpotWinners)
		treasury.Add(treasury, new(big.Int).Sub(affiliateAllocated, reallocated))
	}
	if treasury.Sign() < 0 {
		take := minInt(new(big.Int).Neg(treasury), out.EscrowBalance)
		out.EscrowBalance.Sub(out.EscrowBalance, take)
		treasury.Add(treasury, take)
	}
	if treasury.Sign() < 0 {
		take := minInt(new(big.Int).Neg(treasury), pot)
		pot.Sub(pot, take)
		treasury.Add(treasury, take)
	}
	out.TreasuryShare = treasury

	// lower brackets, highest first, each capped by what the pot still holds
	demands := [models.JackpotBracket]*big.Int{}
	demands[2] = applyRate(in.Gross, s.FirstPrizeRate)
	demands[1] = applyRate(new(big.Int).Mul(in.Price, new(big.Int).SetUint64(in.WinCounts[1])), s.SecondPrizeMultiplier)
	demands[0] = applyRate(new(big.Int).Mul(in.Price, new(big.Int).SetUint64(in.WinCounts[0])), s.ThirdPrizeMultiplier)

	for b := models.JackpotBracket - 1; b >= 0; b-- {
		winners := new(big.Int).SetUint64(in.WinCounts[b])
		if winners.Sign() == 0 {
			continue
		}
		alloc := minInt(demands[b], pot)
		out.PrizeAmounts[b].Quo(alloc, winners)
		pot.Sub(pot, new(big.Int).Mul(out.PrizeAmounts[b], winners))
	}

	if jackpotWinners.Sign() > 0 {
		out.PrizeAmounts[models.JackpotBracket].Quo(pot, jackpotWinners)
		pot.Sub(pot, new(big.Int).Mul(out.PrizeAmounts[models.JackpotBracket], jackpotWinners))
	}
	out.JpTreasury = pot

	return out
}
