package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"libris/internal/domain"
	"libris/internal/fixtures"
	"libris/internal/models"
	"libris/internal/repository"

	"github.com/shopspring/decimal"
)

// testNow is 08:00 UTC; the test resource opens 09:00-21:00 at 10.00/hour.
var testNow = time.Date(2030, 3, 4, 8, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2030, 3, 4, hour, minute, 0, 0, time.UTC)
}

func testFixtures() *fixtures.Set {
	return &fixtures.Set{
		Accounts: []models.Account{
			{ID: 1, Name: "Member", Role: models.RoleMember, Balance: decimal.NewFromInt(100)},
			{ID: 2, Name: "Other", Role: models.RoleMember, Balance: decimal.NewFromInt(100)},
			{ID: 3, Name: "Librarian", Role: models.RoleAdmin, Balance: decimal.NewFromInt(100)},
		},
		Resources: []models.Resource{
			{ID: 1, Name: "Room", Type: models.ResourceRoom, Capacity: 4, HourlyRate: decimal.NewFromInt(10), OpenHour: "09:00", CloseHour: "21:00"},
			{ID: 2, Name: "Desk", Type: models.ResourceSeat, Capacity: 1, HourlyRate: decimal.RequireFromString("2.50"), OpenHour: "00:00", CloseHour: "24:00"},
		},
		Books: []models.Book{
			{ID: 1, Title: "Go in Practice", Author: "Butcher", Price: decimal.RequireFromString("30.00"), StockCount: 2},
			{ID: 2, Title: "Last Copy", Author: "Nobody", Price: decimal.RequireFromString("10.00"), StockCount: 1},
		},
	}
}

type recordedEvent struct {
	Type    string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) PublishJSON(eventType string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store    *repository.FixtureStore
	bus      *recordingPublisher
	bookings *BookingService
	purchase *PurchaseService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewFixtureStore(testFixtures())
	bus := &recordingPublisher{}

	bookings := NewBookingService(store, DefaultPolicy(), bus, nil)
	bookings.SetClock(func() time.Time { return testNow })
	purchase := NewPurchaseService(store, bus, nil)
	purchase.SetClock(func() time.Time { return testNow })

	return &harness{store: store, bus: bus, bookings: bookings, purchase: purchase}
}

func (h *harness) balance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	account, err := h.store.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account %d: %v", accountID, err)
	}
	return account.Balance
}

// flakyStore fails the first n units of work with a concurrency error.
type flakyStore struct {
	domain.Store
	failures int
	calls    int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return domain.ErrConcurrentModification
	}
	return s.Store.WithinTx(ctx, fn)
}
