package referral

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bonanza-lottery/internal/models"
)

var (
	owner     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	mainAgent = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	address2  = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func code(s string) common.Hash {
	return common.BytesToHash([]byte(s))
}

func TestCreateLink(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	_, err := l.CreateLink(ctx, owner, common.Hash{}, 5000, common.Address{})
	require.ErrorIs(t, err, ErrCodeUsed)

	_, err = l.CreateLink(ctx, owner, code("duynghia"), 5000, common.Address{})
	require.NoError(t, err)

	_, err = l.CreateLink(ctx, owner, code("duynghia"), 5000, common.Address{})
	require.ErrorIs(t, err, ErrCodeUsed)

	// later links inherit the zero agent of the first one
	for i := 1; i <= 9; i++ {
		link, err := l.CreateLink(ctx, owner, code(fmt.Sprintf("duynghia%d", i)), 500, address2)
		require.NoError(t, err)
		require.Equal(t, common.Address{}, link.MainAgent)
	}

	links := l.Links(ctx, owner)
	require.Len(t, links, 10)
	require.EqualValues(t, 5000, links[0].Percent)
	require.EqualValues(t, 500, links[1].Percent)

	_, err = l.CreateLink(ctx, owner, code("duynghia10"), 500, common.Address{})
	require.ErrorIs(t, err, ErrTooManyLinks)
	require.Equal(t, "Max is 10 ref per adress", err.Error())
}

func TestCreateLinkWithAgent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	_, err := l.CreateLink(ctx, owner, code("with-agent"), 5000, mainAgent)
	require.ErrorIs(t, err, ErrMainAgentNotSet)

	require.ErrorIs(t, l.UpdateMainAgentRate(ctx, mainAgent, 100000), ErrRateOutOfRange)
	require.ErrorIs(t, l.UpdateMainAgentRate(ctx, mainAgent, 0), ErrRateOutOfRange)
	require.NoError(t, l.UpdateMainAgentRate(ctx, mainAgent, 600))

	link, err := l.CreateLink(ctx, owner, code("with-agent"), 500, mainAgent)
	require.NoError(t, err)
	require.Equal(t, mainAgent, link.MainAgent)

	link, err = l.CreateLink(ctx, owner, code("duynghia2"), 500, address2)
	require.NoError(t, err)
	require.Equal(t, mainAgent, link.MainAgent)

	got, err := l.Lookup(ctx, code("duynghia2"))
	require.NoError(t, err)
	require.Equal(t, owner, got.Owner)

	rate, err := l.MainAgentRate(ctx, mainAgent)
	require.NoError(t, err)
	require.EqualValues(t, 600, rate)
}

func TestCreateLinkPercentRange(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.CreateLink(context.Background(), owner, code("zero"), 0, common.Address{})
	require.ErrorIs(t, err, ErrPercentRange)
	_, err = l.CreateLink(context.Background(), owner, code("big"), 10001, common.Address{})
	require.ErrorIs(t, err, ErrPercentRange)
}

func TestLookupUnknown(t *testing.T) {
	_, err := NewMemoryLedger().Lookup(context.Background(), code("nope"))
	require.ErrorIs(t, err, ErrUnknownCode)
}

func TestSplit(t *testing.T) {
	pool := big.NewInt(1000)

	ownerCut, agentCut := Split(pool, models.ReferralLink{Percent: 5000}, 0)
	require.Equal(t, "500", ownerCut.String())
	require.Equal(t, "0", agentCut.String())

	ownerCut, agentCut = Split(pool, models.ReferralLink{Percent: 5000, MainAgent: mainAgent}, 600)
	require.Equal(t, "500", ownerCut.String())
	require.Equal(t, "60", agentCut.String())

	// agent is capped by what the owner left
	ownerCut, agentCut = Split(pool, models.ReferralLink{Percent: 9500, MainAgent: mainAgent}, 1000)
	require.Equal(t, "950", ownerCut.String())
	require.Equal(t, "50", agentCut.String())
}
