package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"bonanza-lottery/internal/models"
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB opens dsn and initializes the schema. libsql:// and https:// DSNs go to a
// libSQL server; anything else is a local SQLite file.
func NewDB(dsn string) (*DB, error) {
	driver, source := driverFor(dsn)
	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY under load.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func driverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "https://"), strings.HasPrefix(dsn, "http://"):
		return "libsql", dsn
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite3", dsn
	default:
		return "sqlite3", dsn + "?_foreign_keys=1"
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			id INTEGER PRIMARY KEY,
			status INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			price_ticket TEXT NOT NULL,
			discount_divisor INTEGER NOT NULL,
			first_ticket_id INTEGER NOT NULL,
			first_ticket_id_next_round INTEGER NOT NULL,
			ticket_count INTEGER NOT NULL,
			amount_total TEXT NOT NULL,
			amount_used TEXT NOT NULL,
			amount_collected TEXT NOT NULL,
			referral_accrued TEXT NOT NULL,
			jackpot_in TEXT NOT NULL,
			escrow_balance_in TEXT NOT NULL,
			escrow_credit_in TEXT NOT NULL,
			jp_treasury TEXT NOT NULL,
			escrow_balance TEXT NOT NULL,
			escrow_credit TEXT NOT NULL,
			treasury_share TEXT NOT NULL,
			affiliate_prize TEXT NOT NULL,
			final_number TEXT NOT NULL,
			prize_amounts TEXT NOT NULL,
			tickets_win TEXT NOT NULL,
			claimed_win TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id INTEGER PRIMARY KEY,
			round_id INTEGER NOT NULL,
			owner TEXT NOT NULL,
			numbers TEXT NOT NULL,
			ref_code TEXT NOT NULL,
			claimed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_round_id ON tickets(round_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_round_owner ON tickets(round_id, owner)`,
		`CREATE TABLE IF NOT EXISTS engine_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			current_round_id INTEGER NOT NULL,
			next_ticket_id INTEGER NOT NULL,
			jackpot_carry TEXT NOT NULL,
			escrow_credit TEXT NOT NULL,
			escrow_balance TEXT NOT NULL,
			treasury_balance TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS referral_balances (
			account TEXT PRIMARY KEY,
			amount TEXT NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// View runs fn in a transaction that is always rolled back.
func (db *DB) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{tx: tx})
}

// Update runs fn in a transaction and commits it when fn succeeds.
func (db *DB) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) State(ctx context.Context) (models.EngineState, error) {
	state := models.NewEngineState()
	var carry, credit, balance, treasury string
	err := t.tx.QueryRowContext(ctx, `SELECT current_round_id, next_ticket_id, jackpot_carry,
		escrow_credit, escrow_balance, treasury_balance FROM engine_state WHERE id = 1`).Scan(
		&state.CurrentRoundID,
		&state.NextTicketID,
		&carry,
		&credit,
		&balance,
		&treasury,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to query engine state: %w", err)
	}

	for _, f := range []struct {
		dst *big.Int
		src string
	}{
		{state.JackpotCarry, carry},
		{state.EscrowCredit, credit},
		{state.EscrowBalance, balance},
		{state.TreasuryBalance, treasury},
	} {
		if err := parseAmountInto(f.dst, f.src); err != nil {
			return state, err
		}
	}
	return state, nil
}

func (t *sqlTx) PutState(ctx context.Context, state models.EngineState) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO engine_state (
		id, current_round_id, next_ticket_id, jackpot_carry, escrow_credit, escrow_balance, treasury_balance
	) VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		current_round_id = excluded.current_round_id,
		next_ticket_id = excluded.next_ticket_id,
		jackpot_carry = excluded.jackpot_carry,
		escrow_credit = excluded.escrow_credit,
		escrow_balance = excluded.escrow_balance,
		treasury_balance = excluded.treasury_balance`,
		state.CurrentRoundID,
		state.NextTicketID,
		amountText(state.JackpotCarry),
		amountText(state.EscrowCredit),
		amountText(state.EscrowBalance),
		amountText(state.TreasuryBalance),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert engine state: %w", err)
	}
	return nil
}

const roundColumns = `id, status, start_time, end_time, price_ticket, discount_divisor,
	first_ticket_id, first_ticket_id_next_round, ticket_count,
	amount_total, amount_used, amount_collected, referral_accrued,
	jackpot_in, escrow_balance_in, escrow_credit_in,
	jp_treasury, escrow_balance, escrow_credit, treasury_share, affiliate_prize,
	final_number, prize_amounts, tickets_win, claimed_win`

func (t *sqlTx) Round(ctx context.Context, id uint64) (models.Round, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id)
	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Round{}, ErrNotFound
	}
	if err != nil {
		return models.Round{}, fmt.Errorf("failed to query round %d: %w", id, err)
	}
	return round, nil
}

func (t *sqlTx) PutRound(ctx context.Context, r models.Round) error {
	finalNumber, err := json.Marshal(r.FinalNumber)
	if err != nil {
		return fmt.Errorf("failed to encode final number: %w", err)
	}
	prizes := make([]string, len(r.PrizeAmounts))
	for i, p := range r.PrizeAmounts {
		prizes[i] = amountText(p)
	}
	prizeAmounts, _ := json.Marshal(prizes)
	ticketsWin, _ := json.Marshal(r.TicketsWin)
	claimedWin, _ := json.Marshal(r.ClaimedWin)

	_, err = t.tx.ExecContext(ctx, `INSERT INTO rounds (`+roundColumns+`, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		price_ticket = excluded.price_ticket,
		discount_divisor = excluded.discount_divisor,
		first_ticket_id = excluded.first_ticket_id,
		first_ticket_id_next_round = excluded.first_ticket_id_next_round,
		ticket_count = excluded.ticket_count,
		amount_total = excluded.amount_total,
		amount_used = excluded.amount_used,
		amount_collected = excluded.amount_collected,
		referral_accrued = excluded.referral_accrued,
		jackpot_in = excluded.jackpot_in,
		escrow_balance_in = excluded.escrow_balance_in,
		escrow_credit_in = excluded.escrow_credit_in,
		jp_treasury = excluded.jp_treasury,
		escrow_balance = excluded.escrow_balance,
		escrow_credit = excluded.escrow_credit,
		treasury_share = excluded.treasury_share,
		affiliate_prize = excluded.affiliate_prize,
		final_number = excluded.final_number,
		prize_amounts = excluded.prize_amounts,
		tickets_win = excluded.tickets_win,
		claimed_win = excluded.claimed_win,
		updated_at = excluded.updated_at`,
		r.ID,
		int(r.Status),
		r.StartTime,
		r.EndTime,
		amountText(r.PriceTicket),
		r.DiscountDivisor,
		r.FirstTicketID,
		r.FirstTicketIDNextRound,
		r.TicketCount,
		amountText(r.AmountTotal),
		amountText(r.AmountUsed),
		amountText(r.AmountCollected),
		amountText(r.ReferralAccrued),
		amountText(r.JackpotIn),
		amountText(r.EscrowBalanceIn),
		amountText(r.EscrowCreditIn),
		amountText(r.JpTreasury),
		amountText(r.EscrowBalance),
		amountText(r.EscrowCredit),
		amountText(r.TreasuryShare),
		amountText(r.AffiliatePrize),
		string(finalNumber),
		string(prizeAmounts),
		string(ticketsWin),
		string(claimedWin),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert round %d: %w", r.ID, err)
	}
	return nil
}

func (t *sqlTx) ListRounds(ctx context.Context, limit int) ([]models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (models.Round, error) {
	r := models.NewRound(0)
	var status int
	var price, total, used, collected, referral string
	var jackpotIn, escrowBalanceIn, escrowCreditIn string
	var jpTreasury, escrowBalance, escrowCredit, treasuryShare, affiliatePrize string
	var finalNumber, prizeAmounts, ticketsWin, claimedWin string

	err := row.Scan(
		&r.ID,
		&status,
		&r.StartTime,
		&r.EndTime,
		&price,
		&r.DiscountDivisor,
		&r.FirstTicketID,
		&r.FirstTicketIDNextRound,
		&r.TicketCount,
		&total,
		&used,
		&collected,
		&referral,
		&jackpotIn,
		&escrowBalanceIn,
		&escrowCreditIn,
		&jpTreasury,
		&escrowBalance,
		&escrowCredit,
		&treasuryShare,
		&affiliatePrize,
		&finalNumber,
		&prizeAmounts,
		&ticketsWin,
		&claimedWin,
	)
	if err != nil {
		return r, err
	}
	r.Status = models.RoundStatus(status)

	for _, f := range []struct {
		dst *big.Int
		src string
	}{
		{r.PriceTicket, price},
		{r.AmountTotal, total},
		{r.AmountUsed, used},
		{r.AmountCollected, collected},
		{r.ReferralAccrued, referral},
		{r.JackpotIn, jackpotIn},
		{r.EscrowBalanceIn, escrowBalanceIn},
		{r.EscrowCreditIn, escrowCreditIn},
		{r.JpTreasury, jpTreasury},
		{r.EscrowBalance, escrowBalance},
		{r.EscrowCredit, escrowCredit},
		{r.TreasuryShare, treasuryShare},
		{r.AffiliatePrize, affiliatePrize},
	} {
		if err := parseAmountInto(f.dst, f.src); err != nil {
			return r, err
		}
	}

	if err := decodeNumbers(finalNumber, &r.FinalNumber); err != nil {
		return r, fmt.Errorf("failed to decode final number: %w", err)
	}

	var prizes []string
	if err := json.Unmarshal([]byte(prizeAmounts), &prizes); err != nil {
		return r, fmt.Errorf("failed to decode prize amounts: %w", err)
	}
	for i := 0; i < len(prizes) && i < models.Brackets; i++ {
		if err := parseAmountInto(r.PrizeAmounts[i], prizes[i]); err != nil {
			return r, err
		}
	}
	if err := json.Unmarshal([]byte(ticketsWin), &r.TicketsWin); err != nil {
		return r, fmt.Errorf("failed to decode tickets won: %w", err)
	}
	if err := json.Unmarshal([]byte(claimedWin), &r.ClaimedWin); err != nil {
		return r, fmt.Errorf("failed to decode claims: %w", err)
	}
	return r, nil
}

func (t *sqlTx) Ticket(ctx context.Context, id uint64) (models.Ticket, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT id, round_id, owner, numbers, ref_code, claimed
		FROM tickets WHERE id = ?`, id)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ticket{}, ErrNotFound
	}
	if err != nil {
		return models.Ticket{}, fmt.Errorf("failed to query ticket %d: %w", id, err)
	}
	return ticket, nil
}

// PutTickets upserts tickets with one prepared statement.
func (t *sqlTx) PutTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO tickets (
		id, round_id, owner, numbers, ref_code, claimed
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		round_id = excluded.round_id,
		owner = excluded.owner,
		numbers = excluded.numbers,
		ref_code = excluded.ref_code,
		claimed = excluded.claimed`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, tk := range tickets {
		numbers, err := json.Marshal(tk.Numbers)
		if err != nil {
			return fmt.Errorf("failed to encode ticket %d: %w", tk.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			tk.ID,
			tk.RoundID,
			tk.Owner.Hex(),
			string(numbers),
			tk.RefCode.Hex(),
			tk.Claimed,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ticket %d: %w", tk.ID, err)
		}
	}
	return nil
}

func (t *sqlTx) DeleteTickets(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM tickets WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete tickets: %w", err)
	}
	return nil
}

func (t *sqlTx) TicketsByRound(ctx context.Context, roundID uint64) ([]models.Ticket, error) {
	return t.queryTickets(ctx, `SELECT id, round_id, owner, numbers, ref_code, claimed
		FROM tickets WHERE round_id = ? ORDER BY id`, roundID)
}

func (t *sqlTx) TicketsByOwner(ctx context.Context, roundID uint64, owner common.Address) ([]models.Ticket, error) {
	return t.queryTickets(ctx, `SELECT id, round_id, owner, numbers, ref_code, claimed
		FROM tickets WHERE round_id = ? AND owner = ? ORDER BY id`, roundID, owner.Hex())
}

func (t *sqlTx) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, tk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var tk models.Ticket
	var owner, numbers, refCode string
	if err := row.Scan(&tk.ID, &tk.RoundID, &owner, &numbers, &refCode, &tk.Claimed); err != nil {
		return tk, err
	}
	tk.Owner = common.HexToAddress(owner)
	tk.RefCode = common.HexToHash(refCode)

	if err := decodeNumbers(numbers, &tk.Numbers); err != nil {
		return tk, fmt.Errorf("failed to decode ticket numbers: %w", err)
	}
	return tk, nil
}

// decodeNumbers reads a JSON array such as [1,2,3,4,5,6].
func decodeNumbers(serialized string, dst *models.Numbers) error {
	var values []int
	if err := json.Unmarshal([]byte(serialized), &values); err != nil {
		return err
	}
	if len(values) != models.NumbersPerTicket {
		return fmt.Errorf("expected %d numbers, got %d", models.NumbersPerTicket, len(values))
	}
	for i, v := range values {
		dst[i] = uint8(v)
	}
	return nil
}

func (t *sqlTx) ReferralBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var amount string
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM referral_balances WHERE account = ?`,
		account.Hex()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query referral balance: %w", err)
	}
	out := new(big.Int)
	if err := parseAmountInto(out, amount); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *sqlTx) PutReferralBalance(ctx context.Context, account common.Address, amount *big.Int) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO referral_balances (account, amount) VALUES (?, ?)
	ON CONFLICT(account) DO UPDATE SET amount = excluded.amount`,
		account.Hex(), amountText(amount))
	if err != nil {
		return fmt.Errorf("failed to upsert referral balance: %w", err)
	}
	return nil
}

// amountText stores amounts as base-10 text; they overflow SQLite's 64-bit integers.
func amountText(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func parseAmountInto(dst *big.Int, s string) error {
	if _, ok := dst.SetString(s, 10); !ok {
		return fmt.Errorf("failed to parse amount %q", s)
	}
	return nil
}
