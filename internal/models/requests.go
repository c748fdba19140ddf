package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// StartLotteryRequest is the body of POST /lotteries.
type StartLotteryRequest struct {
	EndTime         int64    `json:"end_time"`
	PriceTicket     *big.Int `json:"price_ticket"`
	DiscountDivisor uint64   `json:"discount_divisor"`
}

// BuyTicketsRequest is the body of POST /lotteries/{id}/tickets.
type BuyTicketsRequest struct {
	Tickets [][]int     `json:"tickets"`
	RefCode common.Hash `json:"ref_code"`
	Coupon  *Coupon     `json:"coupon,omitempty"`
}

// PurchaseReceipt describes an accepted batch purchase.
type PurchaseReceipt struct {
	Buyer     common.Address `json:"buyer"`
	RoundID   uint64         `json:"round_id"`
	TicketIDs []uint64       `json:"ticket_ids"`
	Gross     *big.Int       `json:"gross"`
	Charged   *big.Int       `json:"charged"`
	Discount  *big.Int       `json:"discount"`
	Referral  *big.Int       `json:"referral"`
	RefCode   common.Hash    `json:"ref_code"`
}

// DrawRequest is the body of POST /lotteries/{id}/draw.
type DrawRequest struct {
	WinCounts [Brackets]uint64 `json:"win_counts"`
}

// ClaimTicketsRequest is the body of POST /lotteries/{id}/claims.
type ClaimTicketsRequest struct {
	TicketIDs []uint64 `json:"ticket_ids"`
}

// ClaimReceipt describes a processed claim batch.
type ClaimReceipt struct {
	Claimer common.Address `json:"claimer"`
	RoundID uint64         `json:"round_id"`
	Amount  *big.Int       `json:"amount"`
	Count   int            `json:"count"`
}

// TicketsView is the response of GET /tickets.
type TicketsView struct {
	Numbers []Numbers        `json:"numbers"`
	Owners  []common.Address `json:"owners"`
}

// CurrentLotteryResponse is the response of GET /lotteries/current.
type CurrentLotteryResponse struct {
	LotteryID uint64 `json:"lottery_id"`
}

// WinCountsResponse is the response of GET /lotteries/{id}/win-counts.
type WinCountsResponse struct {
	Numbers   Numbers          `json:"numbers"`
	WinCounts [Brackets]uint64 `json:"win_counts"`
}

// AmountResponse carries a single token amount.
type AmountResponse struct {
	Amount *big.Int `json:"amount"`
}

// AdminAddressesRequest is the body of POST /admin/addresses.
type AdminAddressesRequest struct {
	Operator          common.Address `json:"operator"`
	Treasury          common.Address `json:"treasury"`
	Injector          common.Address `json:"injector"`
	AffiliateReceiver common.Address `json:"affiliate_receiver"`
}

// TicketValuesRequest is the body of POST /admin/ticket-values.
type TicketValuesRequest struct {
	MinPriceTicket   *big.Int `json:"min_price_ticket"`
	MaxPriceTicket   *big.Int `json:"max_price_ticket"`
	MaxTicketsPerBuy int      `json:"max_tickets_per_buy"`
}

// CreateLinkRequest is the body of POST /referrals/links.
type CreateLinkRequest struct {
	Code      common.Hash    `json:"code"`
	Percent   uint32         `json:"percent"`
	MainAgent common.Address `json:"main_agent"`
}

// MainAgentRateRequest is the body of POST /referrals/agents.
type MainAgentRateRequest struct {
	Agent common.Address `json:"agent"`
	Rate  uint32         `json:"rate"`
}

// SaveResultRequest carries an operator-published draw result.
type SaveResultRequest struct {
	Numbers Numbers `json:"numbers"`
}

// FaucetRequest is the body of the development POST /dev/faucet endpoint.
type FaucetRequest struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

// ApproveRequest is the body of the development POST /dev/approve endpoint.
type ApproveRequest struct {
	Amount *big.Int `json:"amount"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}
