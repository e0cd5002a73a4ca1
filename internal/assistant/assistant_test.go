package assistant

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/fixtures"
	"libris/internal/models"
	"libris/internal/repository"
	"libris/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2030, 3, 4, 7, 0, 0, 0, time.UTC)

type testEnv struct {
	store     *repository.FixtureStore
	assistant *Assistant
}

func newTestEnv(t *testing.T, cfg config.AssistantConfig) *testEnv {
	t.Helper()
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.RateLimitMessages == 0 {
		cfg.RateLimitMessages = 100
		cfg.RateLimitWindow = time.Minute
	}

	clock := func() time.Time { return testNow }
	store := repository.NewFixtureStore(fixtures.Default())

	bookings := service.NewBookingService(store, service.DefaultPolicy(), nil, nil)
	bookings.SetClock(clock)
	purchases := service.NewPurchaseService(store, nil, nil)
	purchases.SetClock(clock)
	stateRepo := repository.NewMemoryStateRepository(cfg.SessionTTL)
	state := service.NewStateService(stateRepo, cfg.SessionTTL, nil)
	state.SetClock(clock)

	a := New(Deps{
		Bookings:  bookings,
		Purchases: purchases,
		Catalog:   service.NewCatalogService(store),
		State:     state,
		Audit:     store,
	}, cfg, nil)
	a.SetClock(clock)

	tokens := 0
	a.newToken = func() string {
		tokens++
		return "token-" + string(rune('a'+tokens-1))
	}
	return &testEnv{store: store, assistant: a}
}

var member = Caller{AccountID: 1}

func TestAssistant_Tools(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	tools := env.assistant.Tools()
	require.Len(t, tools, 11)

	mutating := map[string]bool{}
	for _, info := range tools {
		if info.Mutating {
			mutating[info.Name] = true
		}
	}
	assert.Equal(t, map[string]bool{ToolPurchaseBook: true, ToolCreateBooking: true, ToolCancelBooking: true}, mutating)
}

func TestAssistant_ReadTools(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	res, err := env.assistant.Invoke(ctx, member, ToolListBooks, models.ToolArgs{"q": "clean"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	books := res.Output.([]*models.Book)
	require.Len(t, books, 1)
	assert.Equal(t, "Clean Code", books[0].Title)

	res, err = env.assistant.Invoke(ctx, member, ToolListResources, models.ToolArgs{"min_capacity": float64(4)})
	require.NoError(t, err)
	assert.Len(t, res.Output.([]*models.Resource), 2)

	res, err = env.assistant.Invoke(ctx, member, ToolListOpenSlots, models.ToolArgs{"resource_id": 1, "date": "2030-03-04"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Output.([]models.Slot))

	_, err = env.assistant.Invoke(ctx, member, ToolGetBook, models.ToolArgs{})
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, "drop_tables", nil)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, ToolListOpenSlots, models.ToolArgs{"resource_id": 1, "date": "tomorrow"})
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))
}

func TestAssistant_PurchaseNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	res, err := env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": 3, "quantity": 2})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmationRequired, res.Status)
	assert.Equal(t, domain.CodeConfirmationRequired, res.Code)
	require.NotNil(t, res.Confirmation)
	assert.Contains(t, res.Confirmation.Summary, "31.98")
	assert.Equal(t, testNow.Add(30*time.Minute), res.Confirmation.ExpiresAt)

	// Nothing has moved yet.
	book, _ := env.store.GetBook(ctx, 3)
	assert.Equal(t, 4, book.StockCount)

	_, err = env.assistant.Confirm(ctx, member, "wrong", true)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	res, err = env.assistant.Confirm(ctx, member, res.Confirmation.Token, true)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	purchase := res.Output.(*service.PurchaseResult)
	assert.Equal(t, "68.02", purchase.Balance.StringFixed(2))

	book, _ = env.store.GetBook(ctx, 3)
	assert.Equal(t, 2, book.StockCount)
}

func TestAssistant_ConfirmationIsSingleUse(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	res, err := env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": 3})
	require.NoError(t, err)
	token := res.Confirmation.Token

	_, err = env.assistant.Confirm(ctx, member, token, true)
	require.NoError(t, err)
	_, err = env.assistant.Confirm(ctx, member, token, true)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	account, _ := env.store.GetAccount(ctx, 1)
	assert.Equal(t, "84.01", account.Balance.StringFixed(2))
}

func TestAssistant_ConcurrentConfirmExecutesOnce(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	res, err := env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": 3, "quantity": 2})
	require.NoError(t, err)
	token := res.Confirmation.Token

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
		codes    = map[domain.Code]int{}
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := env.assistant.Confirm(ctx, member, token, true)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				codes[domain.CodeOf(err)]++
				return
			}
			if res.Status == StatusOK {
				executed++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, executed)
	assert.Equal(t, map[domain.Code]int{domain.CodeNotFound: callers - 1}, codes)

	account, _ := env.store.GetAccount(ctx, 1)
	assert.Equal(t, "68.02", account.Balance.StringFixed(2))
	book, _ := env.store.GetBook(ctx, 3)
	assert.Equal(t, 2, book.StockCount)
	entries, _ := env.store.ListEntries(ctx, 1)
	assert.Len(t, entries, 1)
}

func TestAssistant_DeclineDiscards(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	res, err := env.assistant.Invoke(ctx, member, ToolCreateBooking, models.ToolArgs{
		"resource_id": 1, "start": "2030-03-04T10:00:00Z", "end": "2030-03-04T12:00:00Z",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Confirmation.Summary, "30.00")

	res, err = env.assistant.Confirm(ctx, member, res.Confirmation.Token, false)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, res.Status)

	reservations, _ := env.store.ListReservations(ctx, domain.ReservationFilter{})
	assert.Empty(t, reservations)
}

func TestAssistant_MutatingToolValidatesEarly(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	_, err := env.assistant.Invoke(ctx, member, ToolCreateBooking, models.ToolArgs{
		"resource_id": 1, "start": "2030-03-04T12:00:00Z", "end": "2030-03-04T10:00:00Z",
	})
	assert.Equal(t, domain.CodeInvalidRange, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": 1, "quantity": 0})
	assert.Equal(t, domain.CodeInvalidQuantity, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, ToolCancelBooking, models.ToolArgs{"booking_id": 9})
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}

func TestAssistant_FractionalArgumentsRejected(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	_, err := env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": float64(3), "quantity": 2.9})
	assert.Equal(t, domain.CodeInvalidQuantity, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": 1.9})
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, ToolGetBook, models.ToolArgs{"book_id": "1"})
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))

	_, err = env.assistant.Invoke(ctx, member, ToolListResources, models.ToolArgs{"min_capacity": 2.5})
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))

	// Integral floats, as decoded from JSON, are accepted.
	res, err := env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": float64(3), "quantity": float64(2)})
	require.NoError(t, err)
	assert.Contains(t, res.Confirmation.Summary, "31.98")

	book, _ := env.store.GetBook(ctx, 3)
	assert.Equal(t, 4, book.StockCount)
}

func TestAssistant_BookAndCancelThroughTools(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	res, err := env.assistant.Invoke(ctx, member, ToolCreateBooking, models.ToolArgs{
		"resource_id": 1, "start": "2030-03-04T10:00:00Z", "end": "2030-03-04T11:00:00Z", "notes": "team sync",
	})
	require.NoError(t, err)
	res, err = env.assistant.Confirm(ctx, member, res.Confirmation.Token, true)
	require.NoError(t, err)
	booking := res.Output.(*service.BookingResult)
	assert.True(t, booking.Balance.Equal(decimal.NewFromInt(85)))

	res, err = env.assistant.Invoke(ctx, member, ToolListUserBookings, nil)
	require.NoError(t, err)
	assert.Len(t, res.Output.([]*models.Reservation), 1)

	other := Caller{AccountID: 2}
	_, err = env.assistant.Invoke(ctx, other, ToolCancelBooking, models.ToolArgs{"booking_id": booking.Reservation.ID})
	assert.Equal(t, domain.CodeForbidden, domain.CodeOf(err))

	res, err = env.assistant.Invoke(ctx, member, ToolCancelBooking, models.ToolArgs{"booking_id": booking.Reservation.ID})
	require.NoError(t, err)
	res, err = env.assistant.Confirm(ctx, member, res.Confirmation.Token, true)
	require.NoError(t, err)
	cancel := res.Output.(*service.CancelResult)
	assert.True(t, cancel.Refund.Equal(decimal.NewFromInt(15)))

	res, err = env.assistant.Invoke(ctx, member, ToolGetBalance, nil)
	require.NoError(t, err)
	balance := res.Output.(map[string]interface{})["balance"].(decimal.Decimal)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestAssistant_Chat(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	reply, err := env.assistant.Chat(ctx, member, `Is the book "1984" in stock?`)
	require.NoError(t, err)
	assert.Equal(t, IntentBooks, reply.Intent)
	require.NotNil(t, reply.Result)
	assert.Len(t, reply.Result.Output.([]*models.Book), 1)

	reply, err = env.assistant.Chat(ctx, member, "hello there")
	require.NoError(t, err)
	assert.Equal(t, IntentGeneral, reply.Intent)
	assert.Nil(t, reply.Result)

	reply, err = env.assistant.Chat(ctx, member, "yes")
	require.NoError(t, err)
	assert.Equal(t, IntentConfirm, reply.Intent)
	assert.Nil(t, reply.Result)

	_, err = env.assistant.Invoke(ctx, member, ToolPurchaseBook, models.ToolArgs{"book_id": 3})
	require.NoError(t, err)
	reply, err = env.assistant.Chat(ctx, member, "Yes!")
	require.NoError(t, err)
	require.NotNil(t, reply.Result)
	assert.Equal(t, StatusOK, reply.Result.Status)

	_, err = env.assistant.Chat(ctx, member, "   ")
	assert.Equal(t, domain.CodeInvalidRequest, domain.CodeOf(err))
}

func TestAssistant_RateLimit(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{RateLimitMessages: 2, RateLimitWindow: time.Minute})
	ctx := context.Background()

	_, err := env.assistant.Chat(ctx, member, "hi")
	require.NoError(t, err)
	_, err = env.assistant.Invoke(ctx, member, ToolGetBalance, nil)
	require.NoError(t, err)
	_, err = env.assistant.Chat(ctx, member, "hi")
	assert.Equal(t, domain.CodeRateLimited, domain.CodeOf(err))

	_, err = env.assistant.Chat(ctx, Caller{AccountID: 2}, "hi")
	assert.NoError(t, err)
}

func TestAssistant_History(t *testing.T) {
	env := newTestEnv(t, config.AssistantConfig{})
	ctx := context.Background()

	_, err := env.assistant.Chat(ctx, member, "show me rooms")
	require.NoError(t, err)
	_, err = env.assistant.Invoke(ctx, member, ToolGetBook, models.ToolArgs{"book_id": 99})
	require.Error(t, err)

	logs, err := env.assistant.History(ctx, member, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, "tool:get_book", logs[0].InputText)
	assert.Equal(t, AgentBooksOfficer, logs[0].AgentType)
	var actions []map[string]interface{}
	require.NoError(t, json.Unmarshal(logs[0].ActionsTaken, &actions))
	assert.Equal(t, "error", actions[0]["status"])
	assert.Equal(t, string(domain.CodeNotFound), actions[0]["code"])

	assert.Equal(t, IntentResources, logs[1].DetectedIntent)
	assert.Equal(t, AgentResourcesOfficer, logs[1].AgentType)
}
