package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"libris/internal/domain"
	"libris/internal/fixtures"
	"libris/internal/models"

	"github.com/shopspring/decimal"
)

// FixtureStore is an in-memory domain.Store seeded from a fixture set.
// A unit of work holds the store lock from start to finish, so ledger
// operations are serialized; an undo journal reverts a failed one.
type FixtureStore struct {
	mu sync.RWMutex

	accounts     map[int64]*models.Account
	resources    map[int64]*models.Resource
	books        map[int64]*models.Book
	reservations map[int64]*models.Reservation
	entries      []*models.LedgerEntry
	audit        []*models.AuditLog

	nextReservationID int64
	nextEntryID       int64
	nextAuditID       int64
}

var (
	_ domain.Store       = (*FixtureStore)(nil)
	_ domain.AuditLogger = (*FixtureStore)(nil)
)

func NewFixtureStore(set *fixtures.Set) *FixtureStore {
	s := &FixtureStore{
		accounts:     make(map[int64]*models.Account),
		resources:    make(map[int64]*models.Resource),
		books:        make(map[int64]*models.Book),
		reservations: make(map[int64]*models.Reservation),
	}
	if set == nil {
		return s
	}

	now := time.Now().UTC()
	for i := range set.Accounts {
		a := set.Accounts[i]
		a.Version = 1
		a.CreatedAt, a.UpdatedAt = now, now
		s.accounts[a.ID] = &a
	}
	for i := range set.Resources {
		r := set.Resources[i]
		s.resources[r.ID] = &r
	}
	for i := range set.Books {
		b := set.Books[i]
		s.books[b.ID] = &b
	}
	return s
}

func (s *FixtureStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(tx)
}

func (s *FixtureStore) Close() error {
	return nil
}

func (s *FixtureStore) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account(id)
}

func (s *FixtureStore) GetResource(_ context.Context, id int64) (*models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resource(id)
}

func (s *FixtureStore) GetBook(_ context.Context, id int64) (*models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book(id)
}

func (s *FixtureStore) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reservation(id)
}

func (s *FixtureStore) ListOverlapping(_ context.Context, resourceID int64, start, end time.Time) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlapping(resourceID, start, end), nil
}

func (s *FixtureStore) ListReservations(_ context.Context, filter domain.ReservationFilter) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Reservation, 0)
	for _, r := range s.reservations {
		if filter.AccountID != 0 && r.AccountID != filter.AccountID {
			continue
		}
		if filter.ResourceID != 0 && r.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sortReservations(out)
	return out, nil
}

func (s *FixtureStore) ListBooks(_ context.Context, filter domain.BookFilter) ([]*models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]*models.Book, 0, len(s.books))
	for _, b := range s.books {
		if filter.Category != "" && !strings.EqualFold(b.Category, filter.Category) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(b.Title), query) &&
			!strings.Contains(strings.ToLower(b.Author), query) &&
			!strings.Contains(strings.ToLower(b.ISBN), query) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FixtureStore) ListResources(_ context.Context, filter domain.ResourceFilter) ([]*models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		if filter.Type != "" && !strings.EqualFold(r.Type, filter.Type) {
			continue
		}
		if r.Capacity < filter.MinCapacity {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FixtureStore) ListEntries(_ context.Context, accountID int64) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.LedgerEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].AccountID == accountID {
			cp := *s.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FixtureStore) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *FixtureStore) ListAudit(_ context.Context, accountID int64, limit int) ([]*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AuditLog, 0)
	for i := len(s.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.audit[i].AccountID == accountID {
			cp := *s.audit[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Lookups below expect s.mu to be held and return copies.

func (s *FixtureStore) account(id int64) (*models.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, domain.ErrRecordNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *FixtureStore) resource(id int64) (*models.Resource, error) {
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %d: %w", id, domain.ErrRecordNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *FixtureStore) book(id int64) (*models.Book, error) {
	b, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("book %d: %w", id, domain.ErrRecordNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *FixtureStore) reservation(id int64) (*models.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %d: %w", id, domain.ErrRecordNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *FixtureStore) overlapping(resourceID int64, start, end time.Time) []*models.Reservation {
	out := make([]*models.Reservation, 0)
	for _, r := range s.reservations {
		if r.ResourceID == resourceID && r.Status == models.StatusConfirmed && r.Overlaps(start, end) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortReservations(out)
	return out
}

func sortReservations(rs []*models.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start.Equal(rs[j].Start) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Start.Before(rs[j].Start)
	})
}

// memoryTx mutates the store directly and journals the inverse of each change.
type memoryTx struct {
	s    *FixtureStore
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	return tx.s.account(id)
}

func (tx *memoryTx) GetResource(_ context.Context, id int64) (*models.Resource, error) {
	return tx.s.resource(id)
}

func (tx *memoryTx) GetBook(_ context.Context, id int64) (*models.Book, error) {
	return tx.s.book(id)
}

func (tx *memoryTx) GetReservation(_ context.Context, id int64) (*models.Reservation, error) {
	return tx.s.reservation(id)
}

func (tx *memoryTx) ListOverlapping(_ context.Context, resourceID int64, start, end time.Time) ([]*models.Reservation, error) {
	return tx.s.overlapping(resourceID, start, end), nil
}

func (tx *memoryTx) UpdateBalance(_ context.Context, accountID int64, balance decimal.Decimal, expectedVersion int64) error {
	a, ok := tx.s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %d: %w", accountID, domain.ErrRecordNotFound)
	}
	if a.Version != expectedVersion {
		return domain.ErrConcurrentModification
	}
	if balance.IsNegative() {
		return fmt.Errorf("account %d: balance would go negative", accountID)
	}

	prev := *a
	a.Balance = balance
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	tx.undo = append(tx.undo, func() { *a = prev })
	return nil
}

func (tx *memoryTx) InsertReservation(_ context.Context, r *models.Reservation) error {
	if _, ok := tx.s.resources[r.ResourceID]; !ok {
		return fmt.Errorf("resource %d: %w", r.ResourceID, domain.ErrRecordNotFound)
	}

	tx.s.nextReservationID++
	r.ID = tx.s.nextReservationID
	cp := *r
	tx.s.reservations[r.ID] = &cp

	id := r.ID
	tx.undo = append(tx.undo, func() {
		delete(tx.s.reservations, id)
		tx.s.nextReservationID--
	})
	return nil
}

func (tx *memoryTx) UpdateReservationStatus(_ context.Context, id int64, from, to string) error {
	r, ok := tx.s.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %d: %w", id, domain.ErrRecordNotFound)
	}
	if r.Status != from {
		return domain.ErrConcurrentModification
	}

	prev := *r
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	tx.undo = append(tx.undo, func() { *r = prev })
	return nil
}

func (tx *memoryTx) DecrementStock(_ context.Context, bookID int64, quantity int) error {
	b, ok := tx.s.books[bookID]
	if !ok {
		return fmt.Errorf("book %d: %w", bookID, domain.ErrRecordNotFound)
	}
	if b.StockCount < quantity {
		return domain.ErrConcurrentModification
	}

	b.StockCount -= quantity
	tx.undo = append(tx.undo, func() { b.StockCount += quantity })
	return nil
}

func (tx *memoryTx) AppendEntry(_ context.Context, e *models.LedgerEntry) error {
	tx.s.nextEntryID++
	e.ID = tx.s.nextEntryID
	cp := *e
	tx.s.entries = append(tx.s.entries, &cp)

	tx.undo = append(tx.undo, func() {
		tx.s.entries = tx.s.entries[:len(tx.s.entries)-1]
		tx.s.nextEntryID--
	})
	return nil
}
