package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"libris/internal/fixtures"
)

// Seed inserts the fixture set. Rows that already exist are left untouched,
// so seeding a live database never resets balances or stock.
func (db *DB) Seed(ctx context.Context, set *fixtures.Set) error {
	if set == nil {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := formatTime(time.Now())
	for _, a := range set.Accounts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO accounts (id, name, role, balance, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			a.ID, a.Name, a.Role, a.Balance.String(), now, now); err != nil {
			return fmt.Errorf("failed to seed account %d: %w", a.ID, err)
		}
	}

	for _, r := range set.Resources {
		features, err := json.Marshal(r.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features of resource %d: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO resources (id, name, type, capacity, features, hourly_rate, open_hour, close_hour)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Type, r.Capacity, string(features), r.HourlyRate.String(), r.OpenHour, r.CloseHour); err != nil {
			return fmt.Errorf("failed to seed resource %d: %w", r.ID, err)
		}
	}

	for _, b := range set.Books {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO books (id, title, author, isbn, category, description, digital_url, price, stock_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Title, b.Author, b.ISBN, b.Category, b.Description, b.DigitalURL, b.Price.String(), b.StockCount); err != nil {
			return fmt.Errorf("failed to seed book %d: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	db.logger.Info().
		Int("accounts", len(set.Accounts)).
		Int("resources", len(set.Resources)).
		Int("books", len(set.Books)).
		Msg("Fixtures seeded")
	return nil
}
