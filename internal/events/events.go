package events

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bonanza-lottery/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventLotteryOpen is emitted when a round starts selling tickets
	EventLotteryOpen EventType = "lottery.open"
	// EventLotteryClose is emitted when a round stops selling tickets
	EventLotteryClose EventType = "lottery.close"
	// EventLotteryInjection is emitted when funds are injected into the jackpot carry
	EventLotteryInjection EventType = "lottery.injection"
	// EventTicketsPurchase is emitted for every accepted purchase batch
	EventTicketsPurchase EventType = "tickets.purchase"
	// EventNumberDrawn is emitted when a round becomes claimable
	EventNumberDrawn EventType = "lottery.number_drawn"
	// EventTicketsClaim is emitted for every processed claim batch
	EventTicketsClaim EventType = "tickets.claim"
	// EventWithdrawal is emitted when treasury or referral balances are paid out
	EventWithdrawal EventType = "funds.withdrawal"
	// EventAdminUpdated is emitted when admin settings change
	EventAdminUpdated EventType = "admin.updated"
)

// Event represents an event in the system.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// LotteryOpenData mirrors the LotteryOpen record.
type LotteryOpenData struct {
	RoundID       uint64
	StartTime     int64
	EndTime       int64
	PriceTicket   *big.Int
	FirstTicketID uint64
}

// LotteryCloseData mirrors the LotteryClose record.
type LotteryCloseData struct {
	RoundID                uint64
	FirstTicketIDNextRound uint64
}

// LotteryInjectionData mirrors the LotteryInjection record.
type LotteryInjectionData struct {
	RoundID uint64
	Amount  *big.Int
}

// TicketsPurchaseData mirrors the TicketsPurchase record.
type TicketsPurchaseData struct {
	Buyer   common.Address
	RoundID uint64
	Count   int
	RefCode common.Hash
}

// NumberDrawnData mirrors the LotteryNumberDrawn record.
type NumberDrawnData struct {
	RoundID        uint64
	FinalNumber    models.Numbers
	JackpotWinners uint64
}

// TicketsClaimData mirrors the TicketsClaim record.
type TicketsClaimData struct {
	Claimer common.Address
	Amount  *big.Int
	RoundID uint64
	Count   int
}

// WithdrawalData describes a payout of an accrued balance.
type WithdrawalData struct {
	Kind    string
	Account common.Address
	Amount  *big.Int
}

// AdminUpdatedData carries the request that changed admin settings.
type AdminUpdatedData struct {
	Kind    string
	Payload interface{}
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager. A nil logger uses the logrus standard logger.
func NewManager(enabled bool, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger.WithField("component", "events"),
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// handlers outlive the request that triggered them
	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.WithFields(logrus.Fields{
					"event_id":   event.ID,
					"event_type": string(event.Type),
				}).WithError(err).Warn("event handler failed")
			}
		}(handler)
	}
}

// PublishLotteryOpen publishes a lottery open event.
func (m *Manager) PublishLotteryOpen(ctx context.Context, round models.Round) {
	m.Publish(ctx, EventLotteryOpen, LotteryOpenData{
		RoundID:       round.ID,
		StartTime:     round.StartTime,
		EndTime:       round.EndTime,
		PriceTicket:   new(big.Int).Set(round.PriceTicket),
		FirstTicketID: round.FirstTicketID,
	})
}

// PublishLotteryClose publishes a lottery close event.
func (m *Manager) PublishLotteryClose(ctx context.Context, round models.Round) {
	m.Publish(ctx, EventLotteryClose, LotteryCloseData{
		RoundID:                round.ID,
		FirstTicketIDNextRound: round.FirstTicketIDNextRound,
	})
}

// PublishLotteryInjection publishes a funds injection event.
func (m *Manager) PublishLotteryInjection(ctx context.Context, roundID uint64, amount *big.Int) {
	m.Publish(ctx, EventLotteryInjection, LotteryInjectionData{
		RoundID: roundID,
		Amount:  new(big.Int).Set(amount),
	})
}

// PublishTicketsPurchase publishes a ticket purchase event.
func (m *Manager) PublishTicketsPurchase(ctx context.Context, buyer common.Address, roundID uint64, count int, refCode common.Hash) {
	m.Publish(ctx, EventTicketsPurchase, TicketsPurchaseData{
		Buyer:   buyer,
		RoundID: roundID,
		Count:   count,
		RefCode: refCode,
	})
}

// PublishNumberDrawn publishes a number drawn event.
func (m *Manager) PublishNumberDrawn(ctx context.Context, round models.Round) {
	m.Publish(ctx, EventNumberDrawn, NumberDrawnData{
		RoundID:        round.ID,
		FinalNumber:    round.FinalNumber,
		JackpotWinners: round.TicketsWin[models.JackpotBracket],
	})
}

// PublishTicketsClaim publishes a ticket claim event.
func (m *Manager) PublishTicketsClaim(ctx context.Context, claimer common.Address, amount *big.Int, roundID uint64, count int) {
	m.Publish(ctx, EventTicketsClaim, TicketsClaimData{
		Claimer: claimer,
		Amount:  new(big.Int).Set(amount),
		RoundID: roundID,
		Count:   count,
	})
}

// PublishWithdrawal publishes a withdrawal event.
func (m *Manager) PublishWithdrawal(ctx context.Context, kind string, account common.Address, amount *big.Int) {
	m.Publish(ctx, EventWithdrawal, WithdrawalData{
		Kind:    kind,
		Account: account,
		Amount:  new(big.Int).Set(amount),
	})
}

// PublishAdminUpdated publishes an admin settings event.
func (m *Manager) PublishAdminUpdated(ctx context.Context, kind string, payload interface{}) {
	m.Publish(ctx, EventAdminUpdated, AdminUpdatedData{Kind: kind, Payload: payload})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
