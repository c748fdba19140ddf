package database

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bonanza-lottery/internal/models"
)

// ErrNotFound is returned when a round or ticket does not exist.
var ErrNotFound = errors.New("database: not found")

// Tx is a unit of work over the engine's persisted state. Values returned by a Tx are
// copies; changes only take effect through the Put methods.
type Tx interface {
	State(ctx context.Context) (models.EngineState, error)
	PutState(ctx context.Context, state models.EngineState) error

	Round(ctx context.Context, id uint64) (models.Round, error)
	PutRound(ctx context.Context, round models.Round) error
	ListRounds(ctx context.Context, limit int) ([]models.Round, error)

	Ticket(ctx context.Context, id uint64) (models.Ticket, error)
	PutTickets(ctx context.Context, tickets []models.Ticket) error
	DeleteTickets(ctx context.Context, ids []uint64) error
	TicketsByRound(ctx context.Context, roundID uint64) ([]models.Ticket, error)
	TicketsByOwner(ctx context.Context, roundID uint64, owner common.Address) ([]models.Ticket, error)

	ReferralBalance(ctx context.Context, account common.Address) (*big.Int, error)
	PutReferralBalance(ctx context.Context, account common.Address, amount *big.Int) error
}

// Store runs transactions. Update commits when fn returns nil and rolls back otherwise.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
