// Package randomness supplies winning combinations to the settlement engine.
package randomness

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"bonanza-lottery/internal/models"
)

var (
	ErrNotReady = errors.New("randomness result not available")
	ErrInvalid  = errors.New("invalid winning combination")
)

// Source returns the latest result.
type Source interface {
	CurrentResult(ctx context.Context) (models.Numbers, error)
}

// Requester is implemented by sources that produce a fresh result per round.
type Requester interface {
	RequestResult(ctx context.Context, roundID uint64) error
}

// Validate checks that n holds six distinct values in [1,45] and returns them sorted.
func Validate(n models.Numbers) (models.Numbers, error) {
	var seen [models.MaxNumber + 1]bool
	for _, v := range n {
		if v < models.MinNumber || v > models.MaxNumber {
			return n, fmt.Errorf("%w: %d out of range", ErrInvalid, v)
		}
		if seen[v] {
			return n, fmt.Errorf("%w: duplicate %d", ErrInvalid, v)
		}
		seen[v] = true
	}
	sorted := n
	sort.Slice(sorted[:], func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted, nil
}

// Draw picks six distinct numbers in [1,45] with crypto/rand, ascending.
func Draw() (models.Numbers, error) {
	var pool [models.MaxNumber]uint8
	for i := range pool {
		pool[i] = uint8(i + models.MinNumber)
	}
	var n models.Numbers
	for i := 0; i < models.NumbersPerTicket; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool)-i)))
		if err != nil {
			return n, fmt.Errorf("failed to read randomness: %w", err)
		}
		k := i + int(j.Int64())
		pool[i], pool[k] = pool[k], pool[i]
		n[i] = pool[i]
	}
	return Validate(n)
}

// Fixed returns whatever was last saved. Operators and tests set the result explicitly.
type Fixed struct {
	mu     sync.RWMutex
	result models.Numbers
	set    bool
}

func NewFixed() *Fixed {
	return &Fixed{}
}

// Save stores n as the current result.
func (f *Fixed) Save(n models.Numbers) error {
	sorted, err := Validate(n)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = sorted
	f.set = true
	return nil
}

func (f *Fixed) CurrentResult(ctx context.Context) (models.Numbers, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.set {
		return models.Numbers{}, ErrNotReady
	}
	return f.result, nil
}

// Generator draws a new combination whenever a round closes.
type Generator struct {
	mu      sync.RWMutex
	results map[uint64]models.Numbers
	last    uint64
	draw    func() (models.Numbers, error)
}

func NewGenerator() *Generator {
	return &Generator{results: make(map[uint64]models.Numbers), draw: Draw}
}

func (g *Generator) RequestResult(ctx context.Context, roundID uint64) error {
	n, err := g.draw()
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[roundID] = n
	g.last = roundID
	return nil
}

func (g *Generator) CurrentResult(ctx context.Context) (models.Numbers, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.results[g.last]
	if !ok {
		return models.Numbers{}, ErrNotReady
	}
	return n, nil
}

// Result returns the combination drawn for roundID.
func (g *Generator) Result(roundID uint64) (models.Numbers, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.results[roundID]
	return n, ok
}
