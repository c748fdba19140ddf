package database

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bonanza-lottery/internal/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	dbPath := filepath.Join(os.TempDir(), "test_lottery_"+uuid.New().String()+".db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(dbPath)
	}

	return db, cleanup
}

func stores(t *testing.T) map[string]Store {
	db, cleanup := setupTestDB(t)
	t.Cleanup(cleanup)
	return map[string]Store{
		"sqlite": db,
		"memory": NewMemoryStore(),
	}
}

func sampleRound(id uint64) models.Round {
	r := models.NewRound(id)
	r.Status = models.StatusClaimable
	r.StartTime = 1_700_000_000
	r.EndTime = 1_700_014_400
	r.PriceTicket.SetString("5000000000000000000", 10)
	r.DiscountDivisor = 1984
	r.FirstTicketID = 10
	r.FirstTicketIDNextRound = 20
	r.TicketCount = 10
	r.AmountTotal.SetString("3000000000000000000000", 10)
	r.FinalNumber = models.Numbers{1, 2, 3, 4, 5, 6}
	r.PrizeAmounts[3].SetString("748725000000000000000", 10)
	r.TicketsWin = [models.Brackets]uint64{3, 2, 3, 2}
	r.ClaimedWin = [models.Brackets]uint64{0, 1, 0, 0}
	return r
}

func TestStore_RoundRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleRound(1)
			if err := s.Update(ctx, func(tx Tx) error { return tx.PutRound(ctx, want) }); err != nil {
				t.Fatalf("PutRound failed: %v", err)
			}

			var got models.Round
			err := s.View(ctx, func(tx Tx) error {
				var err error
				got, err = tx.Round(ctx, 1)
				return err
			})
			if err != nil {
				t.Fatalf("Round failed: %v", err)
			}

			if got.Status != models.StatusClaimable {
				t.Errorf("Expected status claimable, got %s", got.Status)
			}
			if got.AmountTotal.Cmp(want.AmountTotal) != 0 {
				t.Errorf("Expected amount total %s, got %s", want.AmountTotal, got.AmountTotal)
			}
			if got.PrizeAmounts[3].Cmp(want.PrizeAmounts[3]) != 0 {
				t.Errorf("Expected jackpot prize %s, got %s", want.PrizeAmounts[3], got.PrizeAmounts[3])
			}
			if got.FinalNumber != want.FinalNumber {
				t.Errorf("Expected final number %v, got %v", want.FinalNumber, got.FinalNumber)
			}
			if got.TicketsWin != want.TicketsWin || got.ClaimedWin != want.ClaimedWin {
				t.Errorf("Unexpected win counters %v / %v", got.TicketsWin, got.ClaimedWin)
			}
		})
	}
}

func TestStore_RoundNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.View(ctx, func(tx Tx) error {
				_, err := tx.Round(ctx, 42)
				return err
			})
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ReturnedRoundsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Update(ctx, func(tx Tx) error { return tx.PutRound(ctx, sampleRound(1)) })

	s.View(ctx, func(tx Tx) error {
		r, _ := tx.Round(ctx, 1)
		r.AmountTotal.SetInt64(0)
		return nil
	})

	s.View(ctx, func(tx Tx) error {
		r, _ := tx.Round(ctx, 1)
		if r.AmountTotal.Sign() == 0 {
			t.Error("Expected stored amount to be unaffected by caller mutation")
		}
		return nil
	})
}

func TestStore_Tickets(t *testing.T) {
	ctx := context.Background()
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tickets := []models.Ticket{
				{ID: 0, RoundID: 1, Owner: alice, Numbers: models.Numbers{1, 2, 3, 4, 5, 6}},
				{ID: 1, RoundID: 1, Owner: bob, Numbers: models.Numbers{7, 8, 9, 10, 11, 12}, RefCode: common.HexToHash("0x01")},
				{ID: 2, RoundID: 2, Owner: alice, Numbers: models.Numbers{1, 2, 3, 4, 5, 7}},
			}
			if err := s.Update(ctx, func(tx Tx) error { return tx.PutTickets(ctx, tickets) }); err != nil {
				t.Fatalf("PutTickets failed: %v", err)
			}

			s.View(ctx, func(tx Tx) error {
				round1, err := tx.TicketsByRound(ctx, 1)
				if err != nil {
					t.Fatalf("TicketsByRound failed: %v", err)
				}
				if len(round1) != 2 {
					t.Fatalf("Expected 2 tickets in round 1, got %d", len(round1))
				}
				if round1[1].RefCode != common.HexToHash("0x01") {
					t.Errorf("Expected ref code to survive, got %s", round1[1].RefCode.Hex())
				}

				mine, _ := tx.TicketsByOwner(ctx, 1, alice)
				if len(mine) != 1 || mine[0].ID != 0 {
					t.Errorf("Expected alice to own ticket 0 in round 1, got %+v", mine)
				}
				return nil
			})

			err := s.Update(ctx, func(tx Tx) error {
				tk, err := tx.Ticket(ctx, 0)
				if err != nil {
					return err
				}
				tk.Claimed = true
				if err := tx.PutTickets(ctx, []models.Ticket{tk}); err != nil {
					return err
				}
				return tx.DeleteTickets(ctx, []uint64{1})
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			s.View(ctx, func(tx Tx) error {
				tk, err := tx.Ticket(ctx, 0)
				if err != nil || !tk.Claimed {
					t.Errorf("Expected ticket 0 to be claimed, got %+v err=%v", tk, err)
				}
				if _, err := tx.Ticket(ctx, 1); !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected ticket 1 to be deleted, got %v", err)
				}
				round1, _ := tx.TicketsByRound(ctx, 1)
				if len(round1) != 1 {
					t.Errorf("Expected 1 ticket left in round 1, got %d", len(round1))
				}
				return nil
			})
		})
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(ctx, func(tx Tx) error {
				state := models.NewEngineState()
				state.CurrentRoundID = 9
				if err := tx.PutState(ctx, state); err != nil {
					return err
				}
				if err := tx.PutRound(ctx, sampleRound(9)); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Expected boom, got %v", err)
			}

			s.View(ctx, func(tx Tx) error {
				state, _ := tx.State(ctx)
				if state.CurrentRoundID != 0 {
					t.Errorf("Expected state to be rolled back, got round %d", state.CurrentRoundID)
				}
				if _, err := tx.Round(ctx, 9); !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected round 9 to be rolled back, got %v", err)
				}
				return nil
			})
		})
	}
}

func TestStore_StateAndReferralBalances(t *testing.T) {
	ctx := context.Background()
	agent := common.HexToAddress("0xa9")

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(ctx, func(tx Tx) error {
				state, err := tx.State(ctx)
				if err != nil {
					return err
				}
				state.CurrentRoundID = 3
				state.NextTicketID = 300
				state.JackpotCarry.SetString("1200000000000000000000", 10)
				state.TreasuryBalance.SetInt64(77)
				if err := tx.PutState(ctx, state); err != nil {
					return err
				}
				return tx.PutReferralBalance(ctx, agent, big.NewInt(15))
			})
			if err != nil {
				t.Fatalf("Update failed: %v", err)
			}

			s.View(ctx, func(tx Tx) error {
				state, err := tx.State(ctx)
				if err != nil {
					t.Fatalf("State failed: %v", err)
				}
				if state.CurrentRoundID != 3 || state.NextTicketID != 300 {
					t.Errorf("Unexpected state %+v", state)
				}
				if state.JackpotCarry.String() != "1200000000000000000000" {
					t.Errorf("Unexpected jackpot carry %s", state.JackpotCarry)
				}
				bal, _ := tx.ReferralBalance(ctx, agent)
				if bal.Int64() != 15 {
					t.Errorf("Expected referral balance 15, got %s", bal)
				}
				none, _ := tx.ReferralBalance(ctx, common.HexToAddress("0x01"))
				if none.Sign() != 0 {
					t.Errorf("Expected zero balance, got %s", none)
				}
				return nil
			})
		})
	}
}

func TestStore_ListRounds(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Update(ctx, func(tx Tx) error {
				for id := uint64(1); id <= 3; id++ {
					if err := tx.PutRound(ctx, sampleRound(id)); err != nil {
						return err
					}
				}
				return nil
			})

			s.View(ctx, func(tx Tx) error {
				rounds, err := tx.ListRounds(ctx, 2)
				if err != nil {
					t.Fatalf("ListRounds failed: %v", err)
				}
				if len(rounds) != 2 || rounds[0].ID != 3 || rounds[1].ID != 2 {
					t.Errorf("Expected rounds [3 2], got %d rounds", len(rounds))
				}
				return nil
			})
		})
	}
}

func TestDB_UpdateRollsBackFailedWrite(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO engine_state").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	db := &DB{conn: conn}
	err = db.Update(context.Background(), func(tx Tx) error {
		return tx.PutState(context.Background(), models.NewEngineState())
	})
	if err == nil {
		t.Fatal("Expected error from failed write")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet sqlmock expectations: %v", err)
	}
}

func TestDB_UpdateCommitFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO referral_balances").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("locked"))

	db := &DB{conn: conn}
	err = db.Update(context.Background(), func(tx Tx) error {
		return tx.PutReferralBalance(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	})
	if err == nil {
		t.Fatal("Expected commit error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet sqlmock expectations: %v", err)
	}
}

func TestDriverFor(t *testing.T) {
	cases := map[string]string{
		"libsql://db.turso.io?authToken=x": "libsql",
		"https://db.turso.io":              "libsql",
		"./lottery.db":                     "sqlite3",
		"file::memory:?cache=shared":       "sqlite3",
	}
	for dsn, want := range cases {
		if got, _ := driverFor(dsn); got != want {
			t.Errorf("driverFor(%q) = %s, want %s", dsn, got, want)
		}
	}
}
