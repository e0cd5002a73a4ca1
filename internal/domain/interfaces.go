package domain

import (
	"context"
	"time"

	"libris/internal/models"

	"github.com/shopspring/decimal"
)

// Queries are the reads available both on the store and inside a unit of work.
type Queries interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	// ListOverlapping returns confirmed reservations of the resource that
	// intersect [start, end).
	ListOverlapping(ctx context.Context, resourceID int64, start, end time.Time) ([]*models.Reservation, error)
}

// Tx is a unit of work scoped to exactly one ledger mutation.
type Tx interface {
	Queries

	// UpdateBalance sets the balance if the account is still at expectedVersion,
	// otherwise it returns ErrConcurrentModification.
	UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal, expectedVersion int64) error
	InsertReservation(ctx context.Context, r *models.Reservation) error
	// UpdateReservationStatus moves a reservation from one status to another and
	// returns ErrConcurrentModification if it is no longer in from.
	UpdateReservationStatus(ctx context.Context, id int64, from, to string) error
	// DecrementStock removes quantity units and returns ErrConcurrentModification
	// when fewer remain.
	DecrementStock(ctx context.Context, bookID int64, quantity int) error
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error
}

type ReservationFilter struct {
	AccountID  int64
	ResourceID int64
	Status     string
}

type BookFilter struct {
	Query    string
	Category string
}

type ResourceFilter struct {
	Type        string
	MinCapacity int
}

// Store is the injected storage backend.
type Store interface {
	Queries

	// WithinTx runs fn in a single unit of work. The work is committed when fn
	// returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListReservations(ctx context.Context, filter ReservationFilter) ([]*models.Reservation, error)
	ListBooks(ctx context.Context, filter BookFilter) ([]*models.Book, error)
	ListResources(ctx context.Context, filter ResourceFilter) ([]*models.Resource, error)
	ListEntries(ctx context.Context, accountID int64) ([]*models.LedgerEntry, error)
	Close() error
}

type AuditLogger interface {
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
	// ListAudit returns the newest entries of the account first.
	ListAudit(ctx context.Context, accountID int64, limit int) ([]*models.AuditLog, error)
}

type StateRepository interface {
	GetSession(ctx context.Context, accountID int64) (*models.AssistantSession, error)
	SaveSession(ctx context.Context, session *models.AssistantSession) error
	// UpdateSession applies fn to the current session of the account and
	// stores the result atomically. fn gets an empty session when none is
	// stored and may run more than once. An error from fn aborts the update
	// and is returned unchanged.
	UpdateSession(ctx context.Context, accountID int64, fn func(session *models.AssistantSession) error) error
	ClearSession(ctx context.Context, accountID int64) error
	CheckRateLimit(ctx context.Context, accountID int64, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
