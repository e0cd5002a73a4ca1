package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"libris/internal/domain"
	"libris/internal/models"

	"github.com/shopspring/decimal"
)

// WithinTx runs fn in a write transaction. Transactions begin IMMEDIATE, so
// writers are serialized by SQLite and reads inside fn see committed state.
// Lock contention that outlasts the busy timeout surfaces as
// domain.ErrConcurrentModification.
func (db *DB) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return mapTxErr("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqlTx{tx: tx}); err != nil {
		return mapTxErr("transaction", err)
	}
	if err = tx.Commit(); err != nil {
		return mapTxErr("commit", err)
	}
	return nil
}

func mapTxErr(stage string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%s: %v: %w", stage, err, domain.ErrConcurrentModification)
	}
	if stage == "transaction" {
		return err
	}
	return fmt.Errorf("failed to %s: %w", stage, err)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	return getAccount(ctx, t.tx, id)
}

func (t *sqlTx) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, t.tx, id)
}

func (t *sqlTx) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	return getBook(ctx, t.tx, id)
}

func (t *sqlTx) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, t.tx, id)
}

func (t *sqlTx) ListOverlapping(ctx context.Context, resourceID int64, start, end time.Time) ([]*models.Reservation, error) {
	return listOverlapping(ctx, t.tx, resourceID, start, end)
}

// UpdateBalance is a compare-and-set on the account version.
func (t *sqlTx) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal, expectedVersion int64) error {
	if balance.IsNegative() {
		return fmt.Errorf("account %d: balance would go negative", accountID)
	}
	result, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		balance.String(), formatTime(time.Now()), accountID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return t.checkCAS(ctx, result, "accounts", accountID)
}

func (t *sqlTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (resource_id, account_id, start_ts, end_ts, status, cost, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ResourceID, r.AccountID, formatTime(r.Start), formatTime(r.End), r.Status,
		r.Cost.String(), r.Notes, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	return nil
}

func (t *sqlTx) UpdateReservationStatus(ctx context.Context, id int64, from, to string) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, formatTime(time.Now()), id, from)
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	return t.checkCAS(ctx, result, "reservations", id)
}

// DecrementStock never lets stock go below zero; a short stock reads as a lost race.
func (t *sqlTx) DecrementStock(ctx context.Context, bookID int64, quantity int) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE books SET stock_count = stock_count - ? WHERE id = ? AND stock_count >= ?`,
		quantity, bookID, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	return t.checkCAS(ctx, result, "books", bookID)
}

func (t *sqlTx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, kind, amount, quantity, currency, reference_type, reference_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AccountID, e.Kind, e.Amount.String(), e.Quantity, e.Currency,
		e.ReferenceType, e.ReferenceID, e.Status, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// checkCAS tells a missing row from a guard that no longer holds.
func (t *sqlTx) checkCAS(ctx context.Context, result sql.Result, table string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = t.tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %d: %w", table, id, domain.ErrRecordNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s %d: %w", table, id, err)
	}
	return domain.ErrConcurrentModification
}
