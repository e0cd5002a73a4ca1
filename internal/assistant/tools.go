package assistant

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"libris/internal/domain"
	"libris/internal/models"
	"libris/internal/service"
)

// Tool names.
const (
	ToolListBooks         = "list_books"
	ToolGetBook           = "get_book"
	ToolPurchaseBook      = "purchase_book"
	ToolListResources     = "list_resources"
	ToolGetResource       = "get_resource"
	ToolCheckAvailability = "check_resource_availability"
	ToolListOpenSlots     = "list_open_slots"
	ToolCreateBooking     = "create_booking"
	ToolListUserBookings  = "list_user_bookings"
	ToolCancelBooking     = "cancel_booking"
	ToolGetBalance        = "get_balance"
)

type toolFunc func(ctx context.Context, caller Caller, args models.ToolArgs) (interface{}, error)

// prepareFunc validates a mutating call and describes it for confirmation.
type prepareFunc func(ctx context.Context, caller Caller, args models.ToolArgs) (string, error)

type tool struct {
	name        string
	description string
	run         toolFunc
	prepare     prepareFunc
}

func (t *tool) mutating() bool {
	return t.prepare != nil
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mutating    bool   `json:"requires_confirmation"`
}

func (a *Assistant) registerTools() {
	for _, t := range []*tool{
		{
			name:        ToolListBooks,
			description: "Search the catalog. Arguments: q, category.",
			run:         a.listBooks,
		},
		{
			name:        ToolGetBook,
			description: "Show one book. Arguments: book_id.",
			run:         a.getBook,
		},
		{
			name:        ToolPurchaseBook,
			description: "Buy copies of a book. Arguments: book_id, quantity (default 1).",
			run:         a.purchaseBook,
			prepare:     a.preparePurchase,
		},
		{
			name:        ToolListResources,
			description: "List bookable resources. Arguments: type, min_capacity.",
			run:         a.listResources,
		},
		{
			name:        ToolGetResource,
			description: "Show one resource. Arguments: resource_id.",
			run:         a.getResource,
		},
		{
			name:        ToolCheckAvailability,
			description: "Check whether a resource is free. Arguments: resource_id, start, end (RFC3339).",
			run:         a.checkAvailability,
		},
		{
			name:        ToolListOpenSlots,
			description: "List a resource's slots for a day. Arguments: resource_id, date (YYYY-MM-DD, default today).",
			run:         a.listOpenSlots,
		},
		{
			name:        ToolCreateBooking,
			description: "Reserve a resource. Arguments: resource_id, start, end (RFC3339), notes.",
			run:         a.createBooking,
			prepare:     a.prepareBooking,
		},
		{
			name:        ToolListUserBookings,
			description: "List your reservations. Arguments: include_past, include_cancelled.",
			run:         a.listUserBookings,
		},
		{
			name:        ToolCancelBooking,
			description: "Cancel one of your reservations. Arguments: booking_id.",
			run:         a.cancelBooking,
			prepare:     a.prepareCancel,
		},
		{
			name:        ToolGetBalance,
			description: "Show your balance.",
			run:         a.getBalance,
		},
	} {
		a.tools[t.name] = t
	}
}

// Tools lists the registry sorted by name.
func (a *Assistant) Tools() []ToolInfo {
	out := make([]ToolInfo, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, ToolInfo{Name: t.name, Description: t.description, Mutating: t.mutating()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func requireID(args models.ToolArgs, key string) (int64, error) {
	if !args.Has(key) {
		return 0, domain.Newf(domain.CodeInvalidRequest, "%s is required", key)
	}
	id, ok := args.Int64(key)
	if !ok || id <= 0 {
		return 0, domain.Newf(domain.CodeInvalidRequest, "%s must be a positive integer", key)
	}
	return id, nil
}

func requireInterval(args models.ToolArgs) (time.Time, time.Time, error) {
	start, end := args.GetTime("start"), args.GetTime("end")
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, domain.New(domain.CodeInvalidRequest, "start and end must be RFC3339 timestamps")
	}
	return start, end, nil
}

// quantityArg defaults to one copy.
func quantityArg(args models.ToolArgs) (int, error) {
	if !args.Has("quantity") {
		return 1, nil
	}
	n, ok := args.Int64("quantity")
	if !ok || n < 1 || n > math.MaxInt32 {
		return 0, domain.Newf(domain.CodeInvalidQuantity, "quantity must be a whole number of at least 1, got %v", args["quantity"])
	}
	return int(n), nil
}

func (a *Assistant) listBooks(ctx context.Context, _ Caller, args models.ToolArgs) (interface{}, error) {
	return a.catalog.ListBooks(ctx, domain.BookFilter{Query: args.GetString("q"), Category: args.GetString("category")})
}

func (a *Assistant) getBook(ctx context.Context, _ Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "book_id")
	if err != nil {
		return nil, err
	}
	return a.catalog.GetBook(ctx, id)
}

func (a *Assistant) preparePurchase(ctx context.Context, _ Caller, args models.ToolArgs) (string, error) {
	id, err := requireID(args, "book_id")
	if err != nil {
		return "", err
	}
	quantity, err := quantityArg(args)
	if err != nil {
		return "", err
	}
	book, err := a.catalog.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	total := book.Price.Mul(decimalFromInt(quantity))
	return fmt.Sprintf("Buy %d x %q for %s %s?", quantity, book.Title, total.StringFixed(2), models.DefaultCurrency), nil
}

func (a *Assistant) purchaseBook(ctx context.Context, caller Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "book_id")
	if err != nil {
		return nil, err
	}
	quantity, err := quantityArg(args)
	if err != nil {
		return nil, err
	}
	return a.purchases.Purchase(ctx, service.PurchaseRequest{AccountID: caller.AccountID, BookID: id, Quantity: quantity})
}

func (a *Assistant) listResources(ctx context.Context, _ Caller, args models.ToolArgs) (interface{}, error) {
	filter := domain.ResourceFilter{Type: args.GetString("type")}
	if args.Has("min_capacity") {
		n, ok := args.Int64("min_capacity")
		if !ok || n < 0 || n > math.MaxInt32 {
			return nil, domain.New(domain.CodeInvalidRequest, "min_capacity must be a non-negative integer")
		}
		filter.MinCapacity = int(n)
	}
	return a.catalog.ListResources(ctx, filter)
}

func (a *Assistant) getResource(ctx context.Context, _ Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "resource_id")
	if err != nil {
		return nil, err
	}
	return a.catalog.GetResource(ctx, id)
}

func (a *Assistant) checkAvailability(ctx context.Context, _ Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "resource_id")
	if err != nil {
		return nil, err
	}
	start, end, err := requireInterval(args)
	if err != nil {
		return nil, err
	}
	return a.bookings.CheckAvailability(ctx, id, start, end)
}

func (a *Assistant) listOpenSlots(ctx context.Context, _ Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "resource_id")
	if err != nil {
		return nil, err
	}
	loc := a.bookings.Policy().Location
	if loc == nil {
		loc = time.UTC
	}
	day := a.now().In(loc)
	if raw := args.GetString("date"); raw != "" {
		day, err = time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return nil, domain.New(domain.CodeInvalidRequest, "date must be YYYY-MM-DD")
		}
	}
	return a.bookings.ListSlots(ctx, id, day)
}

func (a *Assistant) prepareBooking(ctx context.Context, caller Caller, args models.ToolArgs) (string, error) {
	id, err := requireID(args, "resource_id")
	if err != nil {
		return "", err
	}
	start, end, err := requireInterval(args)
	if err != nil {
		return "", err
	}
	if err := a.bookings.Policy().ValidateInterval(start, end, a.now()); err != nil {
		return "", err
	}
	resource, err := a.catalog.GetResource(ctx, id)
	if err != nil {
		return "", err
	}
	cost := service.CostFor(resource.HourlyRate, start, end)
	return fmt.Sprintf("Book %s from %s to %s for %s %s?", resource.Name,
		start.Format(time.RFC3339), end.Format(time.RFC3339), cost.StringFixed(2), models.DefaultCurrency), nil
}

func (a *Assistant) createBooking(ctx context.Context, caller Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "resource_id")
	if err != nil {
		return nil, err
	}
	start, end, err := requireInterval(args)
	if err != nil {
		return nil, err
	}
	return a.bookings.CreateBooking(ctx, service.CreateBookingRequest{
		AccountID:  caller.AccountID,
		ResourceID: id,
		Start:      start,
		End:        end,
		Notes:      args.GetString("notes"),
	})
}

func (a *Assistant) listUserBookings(ctx context.Context, caller Caller, args models.ToolArgs) (interface{}, error) {
	filter := domain.ReservationFilter{AccountID: caller.AccountID}
	if !args.GetBool("include_cancelled") {
		filter.Status = models.StatusConfirmed
	}
	reservations, err := a.bookings.ListReservations(ctx, filter)
	if err != nil {
		return nil, err
	}
	if args.GetBool("include_past") {
		return reservations, nil
	}

	now := a.now()
	upcoming := make([]*models.Reservation, 0, len(reservations))
	for _, r := range reservations {
		if !r.End.Before(now) {
			upcoming = append(upcoming, r)
		}
	}
	return upcoming, nil
}

func (a *Assistant) prepareCancel(ctx context.Context, caller Caller, args models.ToolArgs) (string, error) {
	id, err := requireID(args, "booking_id")
	if err != nil {
		return "", err
	}
	r, err := a.bookings.GetReservation(ctx, caller.AccountID, id, caller.Privileged)
	if err != nil {
		return "", err
	}
	if r.Status != models.StatusConfirmed {
		return "", domain.Newf(domain.CodeAlreadyCancelled, "reservation %d is %s", r.ID, r.Status)
	}
	return fmt.Sprintf("Cancel reservation %d (%s to %s) and refund %s %s?", r.ID,
		r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), r.Cost.StringFixed(2), models.DefaultCurrency), nil
}

func (a *Assistant) cancelBooking(ctx context.Context, caller Caller, args models.ToolArgs) (interface{}, error) {
	id, err := requireID(args, "booking_id")
	if err != nil {
		return nil, err
	}
	return a.bookings.CancelBooking(ctx, service.CancelBookingRequest{
		AccountID:     caller.AccountID,
		ReservationID: id,
		Privileged:    caller.Privileged,
	})
}

func (a *Assistant) getBalance(ctx context.Context, caller Caller, _ models.ToolArgs) (interface{}, error) {
	account, err := a.catalog.GetAccount(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"account_id": account.ID,
		"balance":    account.Balance,
		"currency":   models.DefaultCurrency,
	}, nil
}
