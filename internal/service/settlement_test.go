package service

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonanza-lottery/internal/models"
)

// amt converts a whole-token decimal string into wei.
func amt(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(18).BigInt()
}

func assertTokens(t *testing.T, want string, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, amt(want).String(), got.String(), msgAndArgs...)
}

func TestAllocate_Fixtures(t *testing.T) {
	settings := DefaultSettings()
	price := amt("5")

	tests := []struct {
		name          string
		in            AllocationInput
		prizes        [models.Brackets]string
		affiliate     string
		jpTreasury    string
		escrowBalance string
		escrowCredit  string
	}{
		{
			name: "round 1 without winners",
			in: AllocationInput{
				Gross:           amt("3000"),
				Collected:       amt("3000"),
				Price:           price,
				JackpotIn:       amt("1200"),
				EscrowBalanceIn: amt("0"),
				EscrowCreditIn:  amt("1200"),
			},
			prizes:        [models.Brackets]string{"0", "0", "0", "0"},
			affiliate:     "0",
			jpTreasury:    "1950",
			escrowBalance: "600",
			escrowCredit:  "600",
		},
		{
			name: "round 2 one winner per bracket",
			in: AllocationInput{
				Gross:           amt("5000"),
				Collected:       amt("5000"),
				Price:           price,
				JackpotIn:       amt("1950"),
				EscrowBalanceIn: amt("600"),
				EscrowCreditIn:  amt("600"),
				WinCounts:       [models.Brackets]uint64{1, 1, 1, 1},
			},
			prizes:        [models.Brackets]string{"1.5", "15", "143.5", "3440"},
			affiliate:     "250",
			jpTreasury:    "0",
			escrowBalance: "1200",
			escrowCredit:  "0",
		},
		{
			name: "round 3 after reinjection",
			in: AllocationInput{
				Gross:           amt("1000"),
				Collected:       amt("1000"),
				Price:           price,
				JackpotIn:       amt("1200"),
				EscrowBalanceIn: amt("1200"),
				EscrowCreditIn:  amt("1200"),
			},
			prizes:        [models.Brackets]string{"0", "0", "0", "0"},
			affiliate:     "0",
			jpTreasury:    "1450",
			escrowBalance: "1400",
			escrowCredit:  "1000",
		},
		{
			name: "claim fixture",
			in: AllocationInput{
				Gross:           amt("1500"),
				Collected:       amt("1500"),
				Price:           price,
				JackpotIn:       amt("1200"),
				EscrowBalanceIn: amt("0"),
				EscrowCreditIn:  amt("1200"),
				WinCounts:       [models.Brackets]uint64{3, 2, 3, 2},
			},
			prizes:        [models.Brackets]string{"1.5", "15", "14.35", "748.725"},
			affiliate:     "37.5",
			jpTreasury:    "0",
			escrowBalance: "300",
			escrowCredit:  "900",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := settings.Allocate(tt.in)
			for b, want := range tt.prizes {
				assertTokens(t, want, out.PrizeAmounts[b], "bracket %d", b)
			}
			assertTokens(t, tt.affiliate, out.AffiliatePrize, "affiliate prize")
			assertTokens(t, tt.jpTreasury, out.JpTreasury, "jackpot carry")
			assertTokens(t, tt.escrowBalance, out.EscrowBalance, "escrow balance")
			assertTokens(t, tt.escrowCredit, out.EscrowCredit, "escrow credit")
			assert.True(t, out.TreasuryShare.Sign() >= 0, "treasury share must not be negative")
			assertConserved(t, tt.in, out)
		})
	}
}

func assertConserved(t *testing.T, in AllocationInput, out Allocation) {
	t.Helper()
	paid := new(big.Int).Set(out.TreasuryShare)
	for b, prize := range out.PrizeAmounts {
		paid.Add(paid, new(big.Int).Mul(prize, new(big.Int).SetUint64(in.WinCounts[b])))
	}
	paid.Add(paid, new(big.Int).Mul(out.AffiliatePrize, new(big.Int).SetUint64(in.WinCounts[models.JackpotBracket])))
	paid.Add(paid, out.JpTreasury)
	paid.Add(paid, out.EscrowBalance)

	funded := new(big.Int).Add(in.Collected, in.JackpotIn)
	funded.Add(funded, in.EscrowBalanceIn)
	require.Equal(t, funded.String(), paid.String(), "allocation must conserve funds")
}

func TestAllocate_Conservation(t *testing.T) {
	settings := DefaultSettings()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		tickets := rng.Int63n(2000) + 1
		price := amt("5")
		gross := new(big.Int).Mul(price, big.NewInt(tickets))
		// discounts and commissions take up to half of gross
		collected := new(big.Int).Sub(gross, new(big.Int).Rand(rng, new(big.Int).Quo(gross, big.NewInt(2))))

		var wins [models.Brackets]uint64
		left := uint64(tickets)
		for b := range wins {
			if left == 0 {
				break
			}
			wins[b] = uint64(rng.Int63n(int64(min(left, 5)) + 1))
			left -= wins[b]
		}

		in := AllocationInput{
			Gross:           gross,
			Collected:       collected,
			Price:           price,
			JackpotIn:       amt(decimal.NewFromInt(rng.Int63n(5000) + 1200).String()),
			EscrowBalanceIn: amt(decimal.NewFromInt(rng.Int63n(2000)).String()),
			EscrowCreditIn:  amt(decimal.NewFromInt(rng.Int63n(2400)).String()),
			WinCounts:       wins,
		}
		out := settings.Allocate(in)
		assertConserved(t, in, out)
		for b, prize := range out.PrizeAmounts {
			require.True(t, prize.Sign() >= 0, "bracket %d prize negative", b)
			if wins[b] == 0 {
				require.Zero(t, prize.Sign(), "bracket %d pays without winners", b)
			}
		}
		require.True(t, out.JpTreasury.Sign() >= 0)
		require.True(t, out.EscrowCredit.Cmp(in.EscrowCreditIn) <= 0, "escrow credit only shrinks")
	}
}

func TestAllocate_LowerBracketsCappedByPot(t *testing.T) {
	settings := DefaultSettings()
	in := AllocationInput{
		Gross:           amt("5"),
		Collected:       amt("5"),
		Price:           amt("5"),
		JackpotIn:       amt("0"),
		EscrowBalanceIn: amt("0"),
		EscrowCreditIn:  amt("0"),
		WinCounts:       [models.Brackets]uint64{0, 1000, 0, 0},
	}
	out := settings.Allocate(in)

	// 4-match demand is 1000·5·3 tokens but the pot only holds the jackpot and surplus
	// contributions of a single ticket
	total := new(big.Int).Mul(out.PrizeAmounts[1], big.NewInt(1000))
	assert.True(t, total.Cmp(amt("2.25")) <= 0, "payout %s exceeds pot", total)
	assertConserved(t, in, out)
}

func TestCalculateTotalPriceForBulkTickets(t *testing.T) {
	price := amt("5")

	tests := []struct {
		name    string
		divisor uint64
		n       uint64
		want    *big.Int
	}{
		{"single ticket at full price", 1984, 1, price},
		{"two tickets discounted", 1984, 2, new(big.Int).Quo(new(big.Int).Mul(amt("10"), big.NewInt(1983)), big.NewInt(1984))},
		{"no divisor", 0, 10, amt("50")},
		{"beyond divisor", 3, 4, amt("20")},
		{"zero tickets", 1984, 0, big.NewInt(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTotalPriceForBulkTickets(tt.divisor, price, tt.n)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestSettingsClone(t *testing.T) {
	s := DefaultSettings()
	c := s.Clone()
	c.MinJackpotPrize.SetInt64(1)
	assert.NotEqual(t, s.MinJackpotPrize.String(), c.MinJackpotPrize.String())
}
