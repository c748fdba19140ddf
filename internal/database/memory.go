package database

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bonanza-lottery/internal/models"
)

// MemoryStore keeps everything in process memory. Writers are serialised; each Update
// works on an overlay that is merged into the base maps on commit.
type MemoryStore struct {
	mu       sync.RWMutex
	state    models.EngineState
	rounds   map[uint64]models.Round
	tickets  map[uint64]models.Ticket
	byRound  map[uint64][]uint64
	balances map[common.Address]*big.Int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:    models.NewEngineState(),
		rounds:   make(map[uint64]models.Round),
		tickets:  make(map[uint64]models.Ticket),
		byRound:  make(map[uint64][]uint64),
		balances: make(map[common.Address]*big.Int),
	}
}

func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newMemTx(m, true))
}

func (m *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newMemTx(m, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

type memTx struct {
	base     *MemoryStore
	readOnly bool

	state    *models.EngineState
	rounds   map[uint64]models.Round
	tickets  map[uint64]models.Ticket
	deleted  map[uint64]bool
	balances map[common.Address]*big.Int
}

func newMemTx(base *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		base:     base,
		readOnly: readOnly,
		rounds:   make(map[uint64]models.Round),
		tickets:  make(map[uint64]models.Ticket),
		deleted:  make(map[uint64]bool),
		balances: make(map[common.Address]*big.Int),
	}
}

var errReadOnly = errors.New("database: write in read-only transaction")

func (t *memTx) State(ctx context.Context) (models.EngineState, error) {
	if t.state != nil {
		return t.state.Clone(), nil
	}
	return t.base.state.Clone(), nil
}

func (t *memTx) PutState(ctx context.Context, state models.EngineState) error {
	if t.readOnly {
		return errReadOnly
	}
	s := state.Clone()
	t.state = &s
	return nil
}

func (t *memTx) Round(ctx context.Context, id uint64) (models.Round, error) {
	if r, ok := t.rounds[id]; ok {
		return r.Clone(), nil
	}
	if r, ok := t.base.rounds[id]; ok {
		return r.Clone(), nil
	}
	return models.Round{}, ErrNotFound
}

func (t *memTx) PutRound(ctx context.Context, round models.Round) error {
	if t.readOnly {
		return errReadOnly
	}
	t.rounds[round.ID] = round.Clone()
	return nil
}

func (t *memTx) ListRounds(ctx context.Context, limit int) ([]models.Round, error) {
	ids := make(map[uint64]struct{}, len(t.base.rounds)+len(t.rounds))
	for id := range t.base.rounds {
		ids[id] = struct{}{}
	}
	for id := range t.rounds {
		ids[id] = struct{}{}
	}
	sorted := make([]uint64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]models.Round, 0, len(sorted))
	for _, id := range sorted {
		r, err := t.Round(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *memTx) Ticket(ctx context.Context, id uint64) (models.Ticket, error) {
	if t.deleted[id] {
		return models.Ticket{}, ErrNotFound
	}
	if tk, ok := t.tickets[id]; ok {
		return tk, nil
	}
	if tk, ok := t.base.tickets[id]; ok {
		return tk, nil
	}
	return models.Ticket{}, ErrNotFound
}

func (t *memTx) PutTickets(ctx context.Context, tickets []models.Ticket) error {
	if t.readOnly {
		return errReadOnly
	}
	for _, tk := range tickets {
		t.tickets[tk.ID] = tk
		delete(t.deleted, tk.ID)
	}
	return nil
}

func (t *memTx) DeleteTickets(ctx context.Context, ids []uint64) error {
	if t.readOnly {
		return errReadOnly
	}
	for _, id := range ids {
		delete(t.tickets, id)
		t.deleted[id] = true
	}
	return nil
}

func (t *memTx) TicketsByRound(ctx context.Context, roundID uint64) ([]models.Ticket, error) {
	seen := make(map[uint64]bool)
	var out []models.Ticket
	for _, id := range t.base.byRound[roundID] {
		if tk, err := t.Ticket(ctx, id); err == nil && tk.RoundID == roundID {
			out = append(out, tk)
			seen[id] = true
		}
	}
	for id, tk := range t.tickets {
		if tk.RoundID == roundID && !seen[id] {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) TicketsByOwner(ctx context.Context, roundID uint64, owner common.Address) ([]models.Ticket, error) {
	all, err := t.TicketsByRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	var out []models.Ticket
	for _, tk := range all {
		if tk.Owner == owner {
			out = append(out, tk)
		}
	}
	return out, nil
}

func (t *memTx) ReferralBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	if b, ok := t.base.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (t *memTx) PutReferralBalance(ctx context.Context, account common.Address, amount *big.Int) error {
	if t.readOnly {
		return errReadOnly
	}
	t.balances[account] = new(big.Int).Set(amount)
	return nil
}

func (t *memTx) commit() {
	b := t.base
	if t.state != nil {
		b.state = *t.state
	}
	for id, r := range t.rounds {
		b.rounds[id] = r
	}
	for id := range t.deleted {
		if tk, ok := b.tickets[id]; ok {
			b.byRound[tk.RoundID] = removeID(b.byRound[tk.RoundID], id)
			delete(b.tickets, id)
		}
	}
	for id, tk := range t.tickets {
		if _, exists := b.tickets[id]; !exists {
			b.byRound[tk.RoundID] = append(b.byRound[tk.RoundID], id)
		}
		b.tickets[id] = tk
	}
	for addr, amount := range t.balances {
		b.balances[addr] = amount
	}
}

func removeID(ids []uint64, id uint64) []uint64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
