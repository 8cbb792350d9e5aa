package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/digkill/imagestudio/internal/models"
)

// ErrNotFound is returned when a mutation targets a row that does not exist.
var ErrNotFound = errors.New("not found")

const mysqlDuplicateEntry = 1062

// AccountRepository is the account ledger. Every balance or counter change is a single
// conditional UPDATE so concurrent requests cannot overdraw an account.
type AccountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `user_id, balance, free_standard, free_hd, is_unlimited, total_spent, created_at, updated_at`

func (r *AccountRepository) Get(ctx context.Context, userID int64) (*models.Account, error) {
	var acc models.Account
	err := r.db.GetContext(ctx, &acc, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acc, nil
}

// Ensure creates the account with its starting counters if it does not exist yet.
func (r *AccountRepository) Ensure(ctx context.Context, userID int64, freeStandard, freeHD int) (*models.Account, bool, error) {
	const query = `
INSERT IGNORE INTO accounts (user_id, balance, free_standard, free_hd, is_unlimited, total_spent)
VALUES (?, 0, ?, ?, 0, 0)`
	res, err := r.db.ExecContext(ctx, query, userID, freeStandard, freeHD)
	if err != nil {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("account rows affected: %w", err)
	}
	acc, err := r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if acc == nil {
		return nil, false, fmt.Errorf("account %d vanished after insert", userID)
	}
	return acc, affected > 0, nil
}

// Balance returns the current balance; found is false when the account does not exist.
func (r *AccountRepository) Balance(ctx context.Context, userID int64) (int, bool, error) {
	var balance int
	if err := r.db.GetContext(ctx, &balance, `SELECT balance FROM accounts WHERE user_id = ?`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get balance: %w", err)
	}
	return balance, true, nil
}

// RecordUsage appends a usage row for grants that mutate nothing.
func (r *AccountRepository) RecordUsage(ctx context.Context, entry models.UsageEntry) error {
	return insertUsage(ctx, r.db, entry)
}

// ConsumeFree decrements the kind's free counter if it is still positive and logs the usage
// in the same transaction. It returns false when the counter was already exhausted.
func (r *AccountRepository) ConsumeFree(ctx context.Context, entry models.UsageEntry) (bool, error) {
	column, err := freeColumn(entry.Kind)
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE accounts SET ` + column + ` = ` + column + ` - 1, updated_at = NOW()
WHERE user_id = ? AND ` + column + ` > 0`
	res, err := tx.ExecContext(ctx, query, entry.UserID)
	if err != nil {
		return false, fmt.Errorf("consume free use: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("free use rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertUsage(ctx, tx, entry); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit free use: %w", err)
	}
	return true, nil
}

// Debit subtracts entry.Cost from the balance only if the balance covers it, adds it to
// total_spent and logs the usage, all in one transaction. ok is false when funds are short.
func (r *AccountRepository) Debit(ctx context.Context, entry models.UsageEntry) (remaining int, ok bool, err error) {
	if entry.Cost <= 0 {
		return 0, false, fmt.Errorf("debit amount must be positive, got %d", entry.Cost)
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
UPDATE accounts SET balance = balance - ?, total_spent = total_spent + ?, updated_at = NOW()
WHERE user_id = ? AND balance >= ?`
	res, err := tx.ExecContext(ctx, query, entry.Cost, entry.Cost, entry.UserID, entry.Cost)
	if err != nil {
		return 0, false, fmt.Errorf("debit balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("debit rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	if err := tx.GetContext(ctx, &remaining, `SELECT balance FROM accounts WHERE user_id = ?`, entry.UserID); err != nil {
		return 0, false, fmt.Errorf("read balance after debit: %w", err)
	}
	if err := insertUsage(ctx, tx, entry); err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit debit: %w", err)
	}
	return remaining, true, nil
}

// Credit applies grant to the account and records it under (txType, reference). A reference
// that was already applied is a no-op and reports applied=false. total_spent is never lowered,
// refunds included.
func (r *AccountRepository) Credit(ctx context.Context, userID int64, grant models.Grant, txType models.TxType, reference string) (bool, error) {
	if grant.IsZero() {
		return false, fmt.Errorf("empty grant")
	}
	if grant.Balance < 0 || grant.FreeStandard < 0 || grant.FreeHD < 0 {
		return false, fmt.Errorf("grant amounts cannot be negative")
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO credit_transactions (user_id, balance_delta, free_standard_delta, free_hd_delta, tx_type, reference)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, grant.Balance, grant.FreeStandard, grant.FreeHD, txType, reference); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return false, nil
		}
		return false, fmt.Errorf("insert credit transaction: %w", err)
	}

	const update = `
UPDATE accounts
SET balance = balance + ?, free_standard = free_standard + ?, free_hd = free_hd + ?, updated_at = NOW()
WHERE user_id = ?`
	res, err := tx.ExecContext(ctx, update, grant.Balance, grant.FreeStandard, grant.FreeHD, userID)
	if err != nil {
		return false, fmt.Errorf("credit account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credit rows affected: %w", err)
	}
	if affected == 0 {
		return false, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit credit: %w", err)
	}
	return true, nil
}

func (r *AccountRepository) SetUnlimited(ctx context.Context, userID int64, unlimited bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET is_unlimited = ?, updated_at = NOW() WHERE user_id = ?`, unlimited, userID)
	if err != nil {
		return fmt.Errorf("set unlimited: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlimited rows affected: %w", err)
	}
	if affected == 0 {
		// MySQL reports zero changed rows when the flag already has this value.
		acc, err := r.Get(ctx, userID)
		if err != nil {
			return err
		}
		if acc == nil {
			return ErrNotFound
		}
	}
	return nil
}

func freeColumn(kind models.OperationKind) (string, error) {
	switch kind {
	case models.KindStandard:
		return "free_standard", nil
	case models.KindHD:
		return "free_hd", nil
	default:
		return "", fmt.Errorf("operation kind %q has no free counter", kind)
	}
}

func insertUsage(ctx context.Context, exec sqlx.ExecerContext, entry models.UsageEntry) error {
	const query = `
INSERT INTO usage_log (user_id, kind, environment, cost, source)
VALUES (?, ?, ?, ?, ?)`
	if _, err := exec.ExecContext(ctx, query, entry.UserID, entry.Kind, entry.Environment, entry.Cost, entry.Source); err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
