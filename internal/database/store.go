package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"libris/internal/domain"
	"libris/internal/models"
)

var (
	_ domain.Store       = (*DB)(nil)
	_ domain.AuditLogger = (*DB)(nil)
	_ domain.Tx          = (*sqlTx)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const (
	accountColumns     = `id, name, role, balance, version, created_at, updated_at`
	resourceColumns    = `id, name, type, capacity, features, hourly_rate, open_hour, close_hour`
	bookColumns        = `id, title, author, isbn, category, description, digital_url, price, stock_count`
	reservationColumns = `id, resource_id, account_id, start_ts, end_ts, status, cost, notes, created_at, updated_at`
	entryColumns       = `id, account_id, kind, amount, quantity, currency, reference_type, reference_id, status, created_at`
)

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, domain.ErrRecordNotFound)
	}
	return fmt.Errorf("failed to get %s %d: %w", what, id, err)
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a                    models.Account
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Balance, &a.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanResource(row rowScanner) (*models.Resource, error) {
	var (
		r        models.Resource
		features string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Capacity, &features, &r.HourlyRate, &r.OpenHour, &r.CloseHour); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(features), &r.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features of resource %d: %w", r.ID, err)
	}
	return &r, nil
}

func scanBook(row rowScanner) (*models.Book, error) {
	var b models.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Category, &b.Description, &b.DigitalURL, &b.Price, &b.StockCount); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r                                models.Reservation
		start, end, createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.ResourceID, &r.AccountID, &start, &end, &r.Status, &r.Cost, &r.Notes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&r.Start, start}, {&r.End, end}, {&r.CreatedAt, createdAt}, {&r.UpdatedAt, updatedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e         models.LedgerEntry
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Quantity, &e.Currency,
		&e.ReferenceType, &e.ReferenceID, &e.Status, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func getAccount(ctx context.Context, q querier, id int64) (*models.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "account", id)
	}
	return a, nil
}

func getResource(ctx context.Context, q querier, id int64) (*models.Resource, error) {
	r, err := scanResource(q.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "resource", id)
	}
	return r, nil
}

func getBook(ctx context.Context, q querier, id int64) (*models.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "book", id)
	}
	return b, nil
}

func getReservation(ctx context.Context, q querier, id int64) (*models.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return r, nil
}

func queryReservations(ctx context.Context, q querier, query string, args ...interface{}) ([]*models.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// listOverlapping uses the half-open test start < end' AND end > start'.
func listOverlapping(ctx context.Context, q querier, resourceID int64, start, end time.Time) ([]*models.Reservation, error) {
	return queryReservations(ctx, q,
		`SELECT `+reservationColumns+` FROM reservations
		WHERE resource_id = ? AND status = ? AND start_ts < ? AND end_ts > ?
		ORDER BY start_ts, id`,
		resourceID, models.StatusConfirmed, formatTime(end), formatTime(start))
}

func (db *DB) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	return getAccount(ctx, db.DB, id)
}

func (db *DB) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	return getResource(ctx, db.DB, id)
}

func (db *DB) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	return getBook(ctx, db.DB, id)
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

func (db *DB) ListOverlapping(ctx context.Context, resourceID int64, start, end time.Time) ([]*models.Reservation, error) {
	return listOverlapping(ctx, db.DB, resourceID, start, end)
}

func (db *DB) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]*models.Reservation, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.AccountID != 0 {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.ResourceID != 0 {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_ts, id`
	return queryReservations(ctx, db.DB, query, args...)
}

func (db *DB) ListBooks(ctx context.Context, filter domain.BookFilter) ([]*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE 1 = 1`
	var args []interface{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query += ` AND (lower(title) LIKE ? OR lower(author) LIKE ? OR lower(isbn) LIKE ?)`
		args = append(args, like, like, like)
	}
	if filter.Category != "" {
		query += ` AND lower(category) = lower(?)`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (db *DB) ListResources(ctx context.Context, filter domain.ResourceFilter) ([]*models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE capacity >= ?`
	args := []interface{}{filter.MinCapacity}
	if filter.Type != "" {
		query += ` AND lower(type) = lower(?)`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Resource, 0)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListEntries returns the account's ledger entries, newest first.
func (db *DB) ListEntries(ctx context.Context, accountID int64) ([]*models.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = ? ORDER BY id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	out := make([]*models.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
