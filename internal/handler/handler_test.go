package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bonanza-lottery/internal/access"
	"bonanza-lottery/internal/database"
	"bonanza-lottery/internal/features"
	"bonanza-lottery/internal/middleware"
	"bonanza-lottery/internal/models"
	"bonanza-lottery/internal/randomness"
	"bonanza-lottery/internal/service"
	"bonanza-lottery/internal/token"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	injector = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	player   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	engine   = common.HexToAddress("0x000000000000000000000000000000000000B0A2")
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type testEnv struct {
	router http.Handler
	ledger *token.MemoryLedger
	random *randomness.Fixed
	flags  *features.Manager
	now    time.Time
}

func setupTestHandler(t *testing.T) *testEnv {
	dbPath := filepath.Join(os.TempDir(), "test_handler_"+uuid.New().String()+".db")
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})

	env := &testEnv{
		ledger: token.NewMemoryLedger(),
		random: randomness.NewFixed(),
		flags:  features.NewManager(),
		now:    time.Unix(1_700_000_000, 0),
	}
	features.RegisterDefaults(env.flags)

	roles := access.NewControl(admin)
	roles.Grant(access.RoleOperator, operator)
	roles.Grant(access.RoleTreasury, treasury)
	roles.Grant(access.RoleInjector, injector)

	svc, err := service.NewService(service.Options{
		Store:      db,
		Ledger:     env.ledger,
		Randomness: env.random,
		Roles:      roles,
		Features:   env.flags,
		Address:    engine,
		Clock:      func() time.Time { return env.now },
	})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	h := NewHandlerWithOptions(svc, NewHandlerOptions{
		Features: env.flags,
		Faucet:   env.ledger,
		Results:  env.random,
		Roles:    roles,
	})
	r := chi.NewRouter()
	r.Use(middleware.NewAuth("", true, nil).Handler)
	h.Routes(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, caller common.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(middleware.CallerHeader, caller.Hex())
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) fund(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	if err := e.ledger.Mint(account, amount); err != nil {
		t.Fatalf("Failed to mint: %v", err)
	}
	if err := e.ledger.Approve(account, engine, amount); err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
}

// openRound injects the minimum jackpot and starts round 1.
func (e *testEnv) openRound(t *testing.T) {
	t.Helper()
	e.fund(t, injector, tokens(1200))
	if rr := e.do(t, http.MethodPost, "/treasury/inject", injector, nil); rr.Code != http.StatusOK {
		t.Fatalf("Inject: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	start := models.StartLotteryRequest{
		EndTime:         e.now.Add(5 * time.Hour).Unix(),
		PriceTicket:     tokens(5),
		DiscountDivisor: 1984,
	}
	if rr := e.do(t, http.MethodPost, "/lotteries", operator, start); rr.Code != http.StatusCreated {
		t.Fatalf("Start: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodGet, "/health", common.Address{}, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestRoundLifecycle(t *testing.T) {
	env := setupTestHandler(t)
	env.openRound(t)

	rr := env.do(t, http.MethodGet, "/lotteries/current", common.Address{}, nil)
	var current models.CurrentLotteryResponse
	json.NewDecoder(rr.Body).Decode(&current)
	if current.LotteryID != 1 {
		t.Fatalf("Expected current lottery 1, got %d", current.LotteryID)
	}

	env.fund(t, player, tokens(100))
	buy := models.BuyTicketsRequest{Tickets: [][]int{{1, 2, 3, 4, 5, 6}, {7, 8, 9, 10, 11, 12}}}
	rr = env.do(t, http.MethodPost, "/lotteries/1/tickets", player, buy)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Buy: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var receipt models.PurchaseReceipt
	if err := json.NewDecoder(rr.Body).Decode(&receipt); err != nil {
		t.Fatalf("Failed to decode receipt: %v", err)
	}
	if len(receipt.TicketIDs) != 2 {
		t.Fatalf("Expected 2 tickets, got %d", len(receipt.TicketIDs))
	}

	rr = env.do(t, http.MethodPost, "/lotteries/1/close", operator, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Close before end: expected 409, got %d", rr.Code)
	}

	env.now = env.now.Add(6 * time.Hour)
	rr = env.do(t, http.MethodPost, "/lotteries/1/close", operator, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Close: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/lotteries/1/win-counts?numbers=1,2,3,4,5,6", common.Address{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Win counts: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var counts models.WinCountsResponse
	json.NewDecoder(rr.Body).Decode(&counts)
	if counts.WinCounts != [models.Brackets]uint64{0, 0, 0, 1} {
		t.Fatalf("Unexpected win counts %v", counts.WinCounts)
	}

	rr = env.do(t, http.MethodPost, "/randomness", operator, models.SaveResultRequest{Numbers: models.Numbers{6, 5, 4, 3, 2, 1}})
	if rr.Code != http.StatusOK {
		t.Fatalf("Save result: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/lotteries/1/draw", operator, models.DrawRequest{WinCounts: counts.WinCounts})
	if rr.Code != http.StatusOK {
		t.Fatalf("Draw: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var round models.Round
	json.NewDecoder(rr.Body).Decode(&round)
	if round.Status != models.StatusClaimable {
		t.Fatalf("Expected claimable round, got %s", round.Status)
	}

	rr = env.do(t, http.MethodPost, "/lotteries/1/claims", operator, models.ClaimTicketsRequest{TicketIDs: receipt.TicketIDs[:1]})
	if rr.Code != http.StatusForbidden {
		t.Errorf("Claim by stranger: expected 403, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/lotteries/1/claims", player, models.ClaimTicketsRequest{TicketIDs: receipt.TicketIDs[:1]})
	if rr.Code != http.StatusOK {
		t.Fatalf("Claim: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var claim models.ClaimReceipt
	json.NewDecoder(rr.Body).Decode(&claim)
	if claim.Amount.Sign() <= 0 {
		t.Errorf("Expected a positive jackpot payout, got %s", claim.Amount)
	}

	rr = env.do(t, http.MethodPost, "/lotteries/1/claims", player, models.ClaimTicketsRequest{TicketIDs: receipt.TicketIDs[:1]})
	if rr.Code != http.StatusConflict {
		t.Errorf("Second claim: expected 409, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Kind != string(service.KindAlreadyClaimed) {
		t.Errorf("Expected kind AlreadyClaimed, got %q", resp.Kind)
	}
}

func TestBuyTickets_Errors(t *testing.T) {
	env := setupTestHandler(t)
	env.openRound(t)
	env.fund(t, player, tokens(100))

	tests := []struct {
		name       string
		path       string
		caller     common.Address
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing caller",
			path:       "/lotteries/1/tickets",
			body:       models.BuyTicketsRequest{Tickets: [][]int{{1, 2, 3, 4, 5, 6}}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not ascending",
			path:       "/lotteries/1/tickets",
			caller:     player,
			body:       models.BuyTicketsRequest{Tickets: [][]int{{2, 1, 3, 4, 5, 6}}},
			wantStatus: http.StatusBadRequest,
			wantError:  service.ReasonNotAscending,
		},
		{
			name:       "out of range",
			path:       "/lotteries/1/tickets",
			caller:     player,
			body:       models.BuyTicketsRequest{Tickets: [][]int{{1, 2, 3, 4, 5, 46}}},
			wantStatus: http.StatusBadRequest,
			wantError:  service.ReasonOutOfRange,
		},
		{
			name:       "no tickets",
			path:       "/lotteries/1/tickets",
			caller:     player,
			body:       models.BuyTicketsRequest{},
			wantStatus: http.StatusBadRequest,
			wantError:  service.ReasonNoTicket,
		},
		{
			name:       "not the current round",
			path:       "/lotteries/7/tickets",
			caller:     player,
			body:       models.BuyTicketsRequest{Tickets: [][]int{{1, 2, 3, 4, 5, 6}}},
			wantStatus: http.StatusConflict,
			wantError:  service.ReasonNotOpen,
		},
		{
			name:       "invalid round id",
			path:       "/lotteries/abc/tickets",
			caller:     player,
			body:       models.BuyTicketsRequest{Tickets: [][]int{{1, 2, 3, 4, 5, 6}}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, tt.caller, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantError != "" {
				if resp := decodeError(t, rr); resp.Error != tt.wantError {
					t.Errorf("Expected error %q, got %q", tt.wantError, resp.Error)
				}
			}
		})
	}
}

func TestBuyTickets_InvalidJSON(t *testing.T) {
	env := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/lotteries/1/tickets", bytes.NewBufferString("{bad"))
	req.Header.Set(middleware.CallerHeader, player.Hex())
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestStartLottery_AccessAndTreasury(t *testing.T) {
	env := setupTestHandler(t)
	start := models.StartLotteryRequest{
		EndTime:         env.now.Add(5 * time.Hour).Unix(),
		PriceTicket:     tokens(5),
		DiscountDivisor: 1984,
	}

	if rr := env.do(t, http.MethodPost, "/lotteries", player, start); rr.Code != http.StatusForbidden {
		t.Errorf("Non-operator: expected 403, got %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/lotteries", operator, start)
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("Empty treasury: expected 402, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error != service.ReasonNotTreasury {
		t.Errorf("Expected %q, got %q", service.ReasonNotTreasury, resp.Error)
	}
}

func TestViewTickets(t *testing.T) {
	env := setupTestHandler(t)
	env.openRound(t)
	env.fund(t, player, tokens(100))
	env.do(t, http.MethodPost, "/lotteries/1/tickets", player, models.BuyTicketsRequest{Tickets: [][]int{{1, 2, 3, 4, 5, 6}}})

	rr := env.do(t, http.MethodGet, "/tickets?ids=0", common.Address{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view models.TicketsView
	json.NewDecoder(rr.Body).Decode(&view)
	if len(view.Owners) != 1 || view.Owners[0] != player {
		t.Errorf("Unexpected owners %v", view.Owners)
	}

	if rr := env.do(t, http.MethodGet, "/tickets?ids=99", common.Address{}, nil); rr.Code != http.StatusNotFound {
		t.Errorf("Unknown ticket: expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/tickets?ids=x", common.Address{}, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Bad ids: expected 400, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/lotteries/1/users/"+player.Hex()+"/tickets", common.Address{}, nil)
	var tickets []models.Ticket
	json.NewDecoder(rr.Body).Decode(&tickets)
	if len(tickets) != 1 {
		t.Errorf("Expected 1 user ticket, got %d", len(tickets))
	}
}

func TestCalculatePrice(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodGet, "/price?price=1984&discount_divisor=1984&n=2", common.Address{}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var resp models.AmountResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	// 2·1984·(1984+1−2)/1984
	if resp.Amount.Int64() != 3966 {
		t.Errorf("Expected 3966, got %s", resp.Amount)
	}

	if rr := env.do(t, http.MethodGet, "/price?n=0", common.Address{}, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestDevEndpoints(t *testing.T) {
	env := setupTestHandler(t)
	faucet := models.FaucetRequest{Account: player, Amount: tokens(10)}

	if rr := env.do(t, http.MethodPost, "/dev/faucet", common.Address{}, faucet); rr.Code != http.StatusNotFound {
		t.Errorf("Disabled faucet: expected 404, got %d", rr.Code)
	}

	env.flags.Enable(features.FeatureDevEndpoints)
	rr := env.do(t, http.MethodPost, "/dev/faucet", common.Address{}, faucet)
	if rr.Code != http.StatusOK {
		t.Fatalf("Faucet: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var bal models.AmountResponse
	json.NewDecoder(rr.Body).Decode(&bal)
	if bal.Amount.Cmp(tokens(10)) != 0 {
		t.Errorf("Expected balance %s, got %s", tokens(10), bal.Amount)
	}

	rr = env.do(t, http.MethodPost, "/dev/approve", player, models.ApproveRequest{Amount: tokens(3)})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Approve: expected 204, got %d", rr.Code)
	}
	allowance, _ := env.ledger.Allowance(context.Background(), player, engine)
	if allowance.Cmp(tokens(3)) != 0 {
		t.Errorf("Expected allowance %s, got %s", tokens(3), allowance)
	}
}

func TestWithdrawTreasury_Nothing(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodPost, "/treasury/withdraw", treasury, nil)
	if rr.Code != http.StatusConflict && rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected a rejection, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Error != service.ReasonNothingToWithdraw {
		t.Errorf("Expected %q, got %q", service.ReasonNothingToWithdraw, resp.Error)
	}
	if rr := env.do(t, http.MethodPost, "/treasury/withdraw", player, nil); rr.Code != http.StatusForbidden {
		t.Errorf("Non-treasury: expected 403, got %d", rr.Code)
	}
}

func TestListFeatures(t *testing.T) {
	env := setupTestHandler(t)

	rr := env.do(t, http.MethodGet, "/features", common.Address{}, nil)
	var flags []features.FeatureFlag
	if err := json.NewDecoder(rr.Body).Decode(&flags); err != nil {
		t.Fatalf("Failed to decode flags: %v", err)
	}
	if len(flags) != 6 {
		t.Errorf("Expected 6 flags, got %d", len(flags))
	}
}

func TestSaveResult_Rejections(t *testing.T) {
	env := setupTestHandler(t)

	valid := models.SaveResultRequest{Numbers: models.Numbers{1, 2, 3, 4, 5, 6}}
	if rr := env.do(t, http.MethodPost, "/randomness", player, valid); rr.Code != http.StatusForbidden {
		t.Errorf("Non-operator: expected 403, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/randomness", common.Address{}, valid); rr.Code != http.StatusUnauthorized {
		t.Errorf("Anonymous: expected 401, got %d", rr.Code)
	}

	duplicate := models.SaveResultRequest{Numbers: models.Numbers{1, 1, 3, 4, 5, 6}}
	if rr := env.do(t, http.MethodPost, "/randomness", operator, duplicate); rr.Code != http.StatusBadRequest {
		t.Errorf("Duplicate numbers: expected 400, got %d", rr.Code)
	}
	if _, err := env.random.CurrentResult(context.Background()); err == nil {
		t.Error("Rejected results must not be saved")
	}
}
