package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the user has no wallet row.
	ErrNotFound = errors.New("wallet: not found")
	// ErrInsufficientFunds signals the available balance cannot cover the lock.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
)

// Repository handles wallet data access. Mutations take the caller's pgx.Tx so
// fund movement commits atomically with the room transition that caused it.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create seeds a wallet with the role's initial balance.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, userID string, initialBalance float64) error {
	const insertSQL = `
		INSERT INTO wallets (user_id, balance, locked, transactions)
		VALUES ($1, $2, 0, '[]'::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, userID, initialBalance); err != nil {
		return fmt.Errorf("wallet: create: %w", err)
	}
	return nil
}

// Get returns the wallet for a user.
func (r *Repository) Get(ctx context.Context, userID string) (Wallet, error) {
	const selectSQL = `
		SELECT user_id, balance, locked, updated_at FROM wallets WHERE user_id = $1
	`
	var w Wallet
	err := r.pool.QueryRow(ctx, selectSQL, userID).Scan(&w.UserID, &w.Balance, &w.Locked, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("wallet: get: %w", err)
	}
	return w, nil
}

// LockFunds moves amount from available to locked, rejecting before any
// mutation when the available balance is short. The row is locked for the
// duration of the surrounding transaction.
func (r *Repository) LockFunds(ctx context.Context, tx pgx.Tx, userID string, amount float64, roomPhrase string) error {
	var balance float64
	if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("wallet: lock funds: %w", err)
	}
	if balance < amount {
		return ErrInsufficientFunds
	}

	entry := mustJSON(Entry{Type: EntryEscrowLock, Amount: amount, RoomPhrase: roomPhrase, At: time.Now().UTC()})
	const updateSQL = `
		UPDATE wallets
		SET balance = balance - $2,
		    locked = locked + $2,
		    transactions = transactions || $3::jsonb,
		    updated_at = now()
		WHERE user_id = $1
	`
	if _, err := tx.Exec(ctx, updateSQL, userID, amount, entry); err != nil {
		return fmt.Errorf("wallet: lock funds: %w", err)
	}
	return nil
}

// ReleaseLocked moves amount out of the payer's locked balance into the
// recipient's available balance. Payer and recipient may be the same user on
// a refund.
func (r *Repository) ReleaseLocked(ctx context.Context, tx pgx.Tx, fromID, toID string, amount float64, roomPhrase string) error {
	var locked float64
	if err := tx.QueryRow(ctx, `SELECT locked FROM wallets WHERE user_id = $1 FOR UPDATE`, fromID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("wallet: release locked: %w", err)
	}
	if locked < amount {
		return fmt.Errorf("wallet: locked balance %.2f below release amount %.2f", locked, amount)
	}

	entryType := EntryEscrowRelease
	if fromID == toID {
		entryType = EntryEscrowRefund
	}

	debit := mustJSON(Entry{Type: entryType, Amount: -amount, RoomPhrase: roomPhrase, At: time.Now().UTC()})
	const debitSQL = `
		UPDATE wallets
		SET locked = locked - $2,
		    transactions = transactions || $3::jsonb,
		    updated_at = now()
		WHERE user_id = $1
	`
	if _, err := tx.Exec(ctx, debitSQL, fromID, amount, debit); err != nil {
		return fmt.Errorf("wallet: debit locked: %w", err)
	}

	credit := mustJSON(Entry{Type: entryType, Amount: amount, RoomPhrase: roomPhrase, At: time.Now().UTC()})
	const creditSQL = `
		UPDATE wallets
		SET balance = balance + $2,
		    transactions = transactions || $3::jsonb,
		    updated_at = now()
		WHERE user_id = $1
	`
	tag, err := tx.Exec(ctx, creditSQL, toID, amount, credit)
	if err != nil {
		return fmt.Errorf("wallet: credit recipient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	// jsonb concatenation expects an array operand
	return "[" + string(b) + "]"
}
