package handler

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/metrics"
	"bonanza-lottery/internal/middleware"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/randomness"
	"bonanza-lottery/internal/service"
	"bonanza-lottery/internal/token"
	"bonanza-lottery/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	features    *features.Manager
	faucet      *token.MemoryLedger
	results     *randomness.Fixed
	roles       *access.Control
	logger      logrus.FieldLogger
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Features    *features.Manager
	// Faucet backs the development endpoints. They are not mounted when nil.
	Faucet *token.MemoryLedger
	// Results accepts operator-saved draws on POST /randomness. Requires Roles.
	Results *randomness.Fixed
	Roles   *access.Control
	Logger  logrus.FieldLogger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Features == nil {
		opts.Features = features.NewManager()
		features.RegisterDefaults(opts.Features)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Handler{
		service:     svc,
		features:    opts.Features,
		faucet:      opts.Faucet,
		results:     opts.Results,
		roles:       opts.Roles,
		logger:      opts.Logger.WithField("component", "http"),
		maxBodySize: opts.MaxBodySize,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/features", h.ListFeatures)

	r.Route("/lotteries", func(r chi.Router) {
		r.Post("/", h.StartLottery)
		r.Get("/current", h.CurrentLottery)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.ViewLottery)
			r.Post("/tickets", h.BuyTickets)
			r.Post("/close", h.CloseLottery)
			r.Post("/draw", h.DrawFinalNumber)
			r.Post("/claims", h.ClaimTickets)
			r.Get("/users/{addr}/tickets", h.ViewUserTickets)
			r.Get("/tickets/{ticketId}/rewards", h.ViewRewards)
			r.Get("/win-counts", h.WinCounts)
		})
	})

	r.Get("/tickets", h.ViewTickets)
	r.Get("/price", h.CalculatePrice)

	r.Route("/treasury", func(r chi.Router) {
		r.Get("/", h.Treasury)
		r.Post("/inject", h.InjectFunds)
		r.Post("/withdraw", h.WithdrawTreasury)
	})

	r.Route("/referrals", func(r chi.Router) {
		r.Get("/{addr}/balance", h.ReferralBalance)
		r.Get("/{addr}/links", h.ReferralLinks)
		r.Post("/withdraw", h.WithdrawReferral)
		r.Post("/links", h.CreateReferralLink)
		r.Post("/agents", h.UpdateMainAgentRate)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/addresses", h.SetAdminAddresses)
		r.Post("/ticket-values", h.SetTicketValues)
	})

	if h.results != nil && h.roles != nil {
		r.Post("/randomness", h.SaveResult)
	}

	if h.faucet != nil {
		r.Route("/dev", func(r chi.Router) {
			r.Use(h.requireFeature(features.FeatureDevEndpoints))
			r.Post("/faucet", h.Faucet)
			r.Post("/approve", h.Approve)
			r.Get("/balances/{addr}", h.Balance)
		})
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListFeatures handles GET /features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.features.GetAll())
}

// StartLottery handles POST /lotteries
func (h *Handler) StartLottery(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.StartLotteryRequest
	if !h.decode(w, r, &req) {
		return
	}

	round, err := h.service.StartLottery(r.Context(), caller, req.EndTime, req.PriceTicket, req.DiscountDivisor)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, round)
}

// InjectFunds handles POST /treasury/inject
func (h *Handler) InjectFunds(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, err := h.service.InjectFunds(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: amount})
}

// BuyTickets handles POST /lotteries/{id}/tickets
//
// A short text referral code may be passed as the ref query parameter instead of the
// 32-byte ref_code field.
func (h *Handler) BuyTickets(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	var req models.BuyTicketsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if ref := r.URL.Query().Get("ref"); ref != "" {
		code, err := validation.ParseRefCode(ref)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		req.RefCode = code
	}

	receipt, err := h.service.BuyTickets(r.Context(), caller, id, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, receipt)
}

// CloseLottery handles POST /lotteries/{id}/close
func (h *Handler) CloseLottery(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	if err := h.service.CloseLottery(r.Context(), caller, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondRound(w, r, id)
}

// DrawFinalNumber handles POST /lotteries/{id}/draw
func (h *Handler) DrawFinalNumber(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	var req models.DrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	round, err := h.service.DrawFinalNumber(r.Context(), caller, id, req.WinCounts)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, round)
}

// ClaimTickets handles POST /lotteries/{id}/claims
func (h *Handler) ClaimTickets(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	var req models.ClaimTicketsRequest
	if !h.decode(w, r, &req) {
		return
	}

	receipt, err := h.service.ClaimTickets(r.Context(), caller, id, req.TicketIDs)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, receipt)
}

// ViewLottery handles GET /lotteries/{id}
func (h *Handler) ViewLottery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	h.respondRound(w, r, id)
}

// CurrentLottery handles GET /lotteries/current
func (h *Handler) CurrentLottery(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.CurrentLotteryID(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.CurrentLotteryResponse{LotteryID: id})
}

// ViewTickets handles GET /tickets?ids=1,2,3
func (h *Handler) ViewTickets(w http.ResponseWriter, r *http.Request) {
	ids, err := validation.ParseTicketIDs(r.URL.Query().Get("ids"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	view, err := h.service.ViewNumbersAndAddressForTicketIDs(r.Context(), ids)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

// ViewUserTickets handles GET /lotteries/{id}/users/{addr}/tickets
func (h *Handler) ViewUserTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	user, err := validation.ParseAddress(chi.URLParam(r, "addr"), "addr")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	tickets, err := h.service.ViewUserTickets(r.Context(), id, user)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	h.respondJSON(w, http.StatusOK, tickets)
}

// ViewRewards handles GET /lotteries/{id}/tickets/{ticketId}/rewards
func (h *Handler) ViewRewards(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	ticketID, err := strconv.ParseUint(validation.SanitizeString(chi.URLParam(r, "ticketId")), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "ticketId must be a non-negative integer")
		return
	}
	amount, err := h.service.ViewRewardsForTicketID(r.Context(), id, ticketID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: amount})
}

// WinCounts handles GET /lotteries/{id}/win-counts?numbers=1,2,3,4,5,6
func (h *Handler) WinCounts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roundID(w, r)
	if !ok {
		return
	}
	numbers, err := validation.ParseNumbers(r.URL.Query().Get("numbers"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	counts, err := h.service.WinCounts(r.Context(), id, numbers)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.WinCountsResponse{Numbers: numbers, WinCounts: counts})
}

// CalculatePrice handles GET /price. It prices n tickets either for round lottery_id
// or for an explicit price and discount_divisor.
func (h *Handler) CalculatePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := strconv.ParseUint(validation.SanitizeString(q.Get("n")), 10, 64)
	if err != nil || n == 0 {
		h.respondError(w, http.StatusBadRequest, "n must be a positive integer")
		return
	}

	var total *big.Int
	if raw := q.Get("lottery_id"); raw != "" {
		id, err := validation.ParseRoundID(raw)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		total, err = h.service.CalculateTotalPriceForBulkTickets(r.Context(), id, n)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
	} else {
		price, err := validation.ParseAmount(q.Get("price"), "price")
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		divisor, err := strconv.ParseUint(validation.SanitizeString(q.Get("discount_divisor")), 10, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "discount_divisor must be a non-negative integer")
			return
		}
		total = service.CalculateTotalPriceForBulkTickets(divisor, price, n)
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: total})
}

// Treasury handles GET /treasury
func (h *Handler) Treasury(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Treasury(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

// WithdrawTreasury handles POST /treasury/withdraw
func (h *Handler) WithdrawTreasury(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, err := h.service.WithdrawTreasury(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: amount})
}

// ReferralBalance handles GET /referrals/{addr}/balance
func (h *Handler) ReferralBalance(w http.ResponseWriter, r *http.Request) {
	account, err := validation.ParseAddress(chi.URLParam(r, "addr"), "addr")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	amount, err := h.service.ReferralBalance(r.Context(), account)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: amount})
}

// ReferralLinks handles GET /referrals/{addr}/links
func (h *Handler) ReferralLinks(w http.ResponseWriter, r *http.Request) {
	owner, err := validation.ParseAddress(chi.URLParam(r, "addr"), "addr")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	links := h.service.ReferralLinks(r.Context(), owner)
	if links == nil {
		links = []models.ReferralLink{}
	}
	h.respondJSON(w, http.StatusOK, links)
}

// WithdrawReferral handles POST /referrals/withdraw
func (h *Handler) WithdrawReferral(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	amount, err := h.service.WithdrawReferral(r.Context(), caller)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: amount})
}

// CreateReferralLink handles POST /referrals/links
func (h *Handler) CreateReferralLink(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.CreateLinkRequest
	if !h.decode(w, r, &req) {
		return
	}
	link, err := h.service.CreateReferralLink(r.Context(), caller, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, link)
}

// UpdateMainAgentRate handles POST /referrals/agents
func (h *Handler) UpdateMainAgentRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.MainAgentRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.UpdateMainAgentRate(r.Context(), caller, req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAdminAddresses handles POST /admin/addresses
func (h *Handler) SetAdminAddresses(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.AdminAddressesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetAdminAddresses(r.Context(), caller, req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetTicketValues handles POST /admin/ticket-values
func (h *Handler) SetTicketValues(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.TicketValuesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetTicketValues(r.Context(), caller, req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveResult handles POST /randomness. Only operators may publish the next result.
func (h *Handler) SaveResult(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !h.roles.Has(access.RoleOperator, caller) {
		h.respondError(w, http.StatusForbidden, "caller is not an operator")
		return
	}
	var req models.SaveResultRequest
	if !h.decode(w, r, &req) {
		return
	}
	sorted, err := randomness.Validate(req.Numbers)
	if err == nil {
		err = h.results.Save(sorted)
	}
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.WithField("numbers", sorted).Info("draw result saved")
	h.respondJSON(w, http.StatusOK, models.SaveResultRequest{Numbers: sorted})
}

// Faucet handles POST /dev/faucet
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req models.FaucetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Account == (common.Address{}) || req.Amount == nil {
		h.respondError(w, http.StatusBadRequest, "account and amount are required")
		return
	}
	if err := h.faucet.Mint(req.Account, req.Amount); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondBalance(w, r, req.Account)
}

// Approve handles POST /dev/approve. The caller approves the engine to pull amount.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.ApproveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Amount == nil {
		h.respondError(w, http.StatusBadRequest, "amount is required")
		return
	}
	if err := h.faucet.Approve(caller, h.service.Address(), req.Amount); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Balance handles GET /dev/balances/{addr}
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := validation.ParseAddress(chi.URLParam(r, "addr"), "addr")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondBalance(w, r, account)
}

func (h *Handler) respondBalance(w http.ResponseWriter, r *http.Request, account common.Address) {
	bal, err := h.faucet.BalanceOf(r.Context(), account)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.AmountResponse{Amount: bal})
}

func (h *Handler) requireFeature(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !h.features.IsEnabled(name) {
				h.respondError(w, http.StatusNotFound, "not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) respondRound(w http.ResponseWriter, r *http.Request, id uint64) {
	round, err := h.service.ViewLottery(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, round)
}

// caller returns the authenticated account or writes 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "caller address is required")
		return common.Address{}, false
	}
	return caller, true
}

func (h *Handler) roundID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := validation.ParseRoundID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return 0, false
	}
	return id, true
}

// decode reads a size-limited JSON body into dst or writes 400.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// statusFor maps engine error kinds onto HTTP statuses.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindCoupon:
		return http.StatusBadRequest
	case service.KindState, service.KindAlreadyClaimed:
		return http.StatusConflict
	case service.KindInsufficientTreasury:
		return http.StatusPaymentRequired
	case service.KindAccessControl, service.KindOwnership:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		resp := models.ErrorResponse{Error: se.Reason, Kind: string(se.Kind)}
		if detail := se.Error(); detail != se.Reason {
			resp.Detail = detail
		}
		h.respondJSON(w, statusFor(se.Kind), resp)
		return
	}
	var ve *validation.ValidationError
	if errors.As(err, &ve) {
		h.respondJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: ve.Error(), Kind: string(service.KindValidation)})
		return
	}
	h.logger.WithError(err).Error("request failed")
	h.respondError(w, http.StatusInternalServerError, "internal error")
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
