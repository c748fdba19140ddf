package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bonanza-lottery/internal/middleware"
	"bonanza-lottery/internal/models"
)

func TestParseTickets(t *testing.T) {
	tickets, err := parseTickets("1,2,3,4,5,6; 45,44,43,42,41,40;")
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5, 6}, {45, 44, 43, 42, 41, 40}}, tickets)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", " ; "},
		{"not a number", "1,2,3,x,5,6"},
		{"too short", "1,2,3"},
		{"out of range", "1,2,3,4,5,46"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTickets(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestFormatRound(t *testing.T) {
	r := models.NewRound(7)
	r.Status = models.StatusClaimable
	r.PriceTicket = new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))
	r.PrizeAmounts[3] = new(big.Int).Mul(big.NewInt(3440), big.NewInt(1e18))
	r.TicketsWin[3] = 1

	out := formatRound(r, 18)
	assert.Contains(t, out, "lottery 7")
	assert.Contains(t, out, "price:     5 (divisor 0)")
	assert.Contains(t, out, "6-match:   1 winners, 3440 each")
}

func TestClient_SendsCaller(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, caller.Hex(), r.Header.Get(middleware.CallerHeader))
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.CurrentLotteryResponse{LotteryID: 3})
	}))
	defer srv.Close()

	var resp models.CurrentLotteryResponse
	require.NoError(t, newClient(srv.URL+"/", caller, "").get(context.Background(), "/lotteries/current", &resp))
	assert.Equal(t, uint64(3), resp.LotteryID)
}

func TestClient_PrefersToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get(middleware.CallerHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	caller := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	assert.NoError(t, newClient(srv.URL, caller, "abc").post(context.Background(), "/dev/approve", nil, nil))
}

func TestClient_DecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/plain") {
			http.Error(w, "gateway down", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: "Lottery not over", Kind: "StateError"})
	}))
	defer srv.Close()

	api := newClient(srv.URL, common.Address{}, "")

	err := api.post(context.Background(), "/lotteries/1/close", nil, nil)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "409 Lottery not over (StateError)", err.Error())

	err = api.get(context.Background(), "/plain", nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "gateway down", apiErr.ErrorResponse.Error)
}
