// Package referral keeps the registry of referral codes and splits commissions.
package referral

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bonanza-lottery/internal/models"
)

const (
	BasisPoints     = 10000
	DefaultMaxLinks = 10
)

var (
	ErrCodeUsed        = errors.New("Code used")
	ErrTooManyLinks    = errors.New("Max is 10 ref per adress")
	ErrMainAgentNotSet = errors.New("main agent not set")
	ErrRateOutOfRange  = errors.New("Exceed max rewardRate")
	ErrPercentRange    = errors.New("percent must be in (0, 10000]")
	ErrUnknownCode     = errors.New("unknown referral code")
)

// Ledger resolves referral codes at purchase time.
type Ledger interface {
	Lookup(ctx context.Context, code common.Hash) (models.ReferralLink, error)
	MainAgentRate(ctx context.Context, agent common.Address) (uint32, error)
}

// Registry is a Ledger that also manages links and agent rates.
type Registry interface {
	Ledger
	CreateLink(ctx context.Context, owner common.Address, code common.Hash, percent uint32, mainAgent common.Address) (models.ReferralLink, error)
	UpdateMainAgentRate(ctx context.Context, agent common.Address, rate uint32) error
	Links(ctx context.Context, owner common.Address) []models.ReferralLink
}

// Split divides a commission pool between the link owner and its main agent. The owner
// receives pool × percent; the agent pool × agentRate, capped at what remains.
func Split(pool *big.Int, link models.ReferralLink, agentRate uint32) (owner, agent *big.Int) {
	bp := big.NewInt(BasisPoints)
	owner = new(big.Int).Mul(pool, big.NewInt(int64(link.Percent)))
	owner.Quo(owner, bp)
	if owner.Cmp(pool) > 0 {
		owner.Set(pool)
	}

	agent = new(big.Int)
	if link.MainAgent == (common.Address{}) || agentRate == 0 {
		return owner, agent
	}
	agent.Mul(pool, big.NewInt(int64(agentRate)))
	agent.Quo(agent, bp)
	remaining := new(big.Int).Sub(pool, owner)
	if agent.Cmp(remaining) > 0 {
		agent.Set(remaining)
	}
	return owner, agent
}

// MemoryLedger is an in-process registry with the link rules of the on-chain referral contract.
type MemoryLedger struct {
	mu       sync.RWMutex
	links    map[common.Hash]models.ReferralLink
	byOwner  map[common.Address][]common.Hash
	rates    map[common.Address]uint32
	maxLinks int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		links:    make(map[common.Hash]models.ReferralLink),
		byOwner:  make(map[common.Address][]common.Hash),
		rates:    make(map[common.Address]uint32),
		maxLinks: DefaultMaxLinks,
	}
}

// CreateLink registers code for owner. An owner's later links inherit the main agent of
// their first link, whatever agent is passed.
func (l *MemoryLedger) CreateLink(ctx context.Context, owner common.Address, code common.Hash, percent uint32, mainAgent common.Address) (models.ReferralLink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if code == (common.Hash{}) {
		return models.ReferralLink{}, ErrCodeUsed
	}
	if _, used := l.links[code]; used {
		return models.ReferralLink{}, ErrCodeUsed
	}
	if percent == 0 || percent > BasisPoints {
		return models.ReferralLink{}, ErrPercentRange
	}

	existing := l.byOwner[owner]
	if len(existing) >= l.maxLinks {
		return models.ReferralLink{}, ErrTooManyLinks
	}
	if len(existing) > 0 {
		mainAgent = l.links[existing[0]].MainAgent
	} else if mainAgent != (common.Address{}) {
		if _, ok := l.rates[mainAgent]; !ok {
			return models.ReferralLink{}, ErrMainAgentNotSet
		}
	}

	link := models.ReferralLink{Code: code, Percent: percent, Owner: owner, MainAgent: mainAgent}
	l.links[code] = link
	l.byOwner[owner] = append(existing, code)
	return link, nil
}

// UpdateMainAgentRate sets the commission rate of a main agent, in (0, 10000] basis points.
func (l *MemoryLedger) UpdateMainAgentRate(ctx context.Context, agent common.Address, rate uint32) error {
	if rate == 0 || rate > BasisPoints {
		return ErrRateOutOfRange
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[agent] = rate
	return nil
}

// Links returns owner's links in creation order.
func (l *MemoryLedger) Links(ctx context.Context, owner common.Address) []models.ReferralLink {
	l.mu.RLock()
	defer l.mu.RUnlock()

	codes := l.byOwner[owner]
	out := make([]models.ReferralLink, 0, len(codes))
	for _, code := range codes {
		out = append(out, l.links[code])
	}
	return out
}

func (l *MemoryLedger) Lookup(ctx context.Context, code common.Hash) (models.ReferralLink, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	link, ok := l.links[code]
	if !ok {
		return models.ReferralLink{}, ErrUnknownCode
	}
	return link, nil
}

func (l *MemoryLedger) MainAgentRate(ctx context.Context, agent common.Address) (uint32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rates[agent], nil
}
