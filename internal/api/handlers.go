package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"libris/internal/assistant"
	"libris/internal/domain"
	"libris/internal/models"
	"libris/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type handlers struct {
	deps   Deps
	logger *zerolog.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.deps.Catalog.ListBooks(r.Context(), domain.BookFilter{
		Query:    strings.TrimSpace(q.Get("q")),
		Category: strings.TrimSpace(q.Get("category")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": books})
}

func (h *handlers) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	book, err := h.deps.Catalog.GetBook(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

type purchaseRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

func (h *handlers) purchaseBook(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body purchaseRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.deps.Purchases.Purchase(r.Context(), service.PurchaseRequest{
		AccountID: caller.AccountID,
		BookID:    id,
		Quantity:  *body.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handlers) listResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ResourceFilter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("min_capacity")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, domain.New(domain.CodeInvalidRequest, "min_capacity must be a non-negative integer"))
			return
		}
		filter.MinCapacity = n
	}

	resources, err := h.deps.Catalog.ListResources(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (h *handlers) getResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	resource, err := h.deps.Catalog.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

func (h *handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}

	availability, err := h.deps.Bookings.CheckAvailability(r.Context(), id, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		writeError(w, r, domain.New(domain.CodeInvalidRequest, "date is required"))
		return
	}
	loc := h.deps.Bookings.Policy().Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		writeError(w, r, domain.New(domain.CodeInvalidRequest, "invalid date format; expected YYYY-MM-DD"))
		return
	}

	slots, err := h.deps.Bookings.ListSlots(r.Context(), id, day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource_id": id, "date": raw, "slots": slots})
}

type createBookingRequest struct {
	ResourceID int64      `json:"resource_id" validate:"required,gt=0"`
	Start      *time.Time `json:"start" validate:"required"`
	End        *time.Time `json:"end" validate:"required"`
	Notes      string     `json:"notes" validate:"max=500"`
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	var body createBookingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.deps.Bookings.CreateBooking(r.Context(), service.CreateBookingRequest{
		AccountID:  caller.AccountID,
		ResourceID: body.ResourceID,
		Start:      *body.Start,
		End:        *body.End,
		Notes:      strings.TrimSpace(body.Notes),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handlers) listBookings(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != models.StatusConfirmed && status != models.StatusCancelled {
		writeError(w, r, domain.New(domain.CodeInvalidRequest, "status must be confirmed or cancelled"))
		return
	}

	reservations, err := h.deps.Bookings.ListReservations(r.Context(), domain.ReservationFilter{
		AccountID: caller.AccountID,
		Status:    status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": reservations})
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	reservation, err := h.deps.Bookings.GetReservation(r.Context(), caller.AccountID, id, caller.Privileged)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.deps.Bookings.CancelBooking(r.Context(), service.CancelBookingRequest{
		AccountID:     caller.AccountID,
		ReservationID: id,
		Privileged:    caller.Privileged,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	account, err := h.deps.Catalog.GetAccount(r.Context(), caller.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	entries, err := h.deps.Catalog.ListEntries(r.Context(), caller.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := h.deps.Assistant.Chat(r.Context(), assistantCaller(r), body.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handlers) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.deps.Assistant.Tools()})
}

type toolRequest struct {
	Args models.ToolArgs `json:"args"`
}

func (h *handlers) invokeTool(w http.ResponseWriter, r *http.Request) {
	var body toolRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}

	result, err := h.deps.Assistant.Invoke(r.Context(), assistantCaller(r), chi.URLParam(r, "name"), body.Args)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Status == assistant.StatusConfirmationRequired {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

type confirmRequest struct {
	Token   string `json:"token" validate:"required"`
	Approve *bool  `json:"approve" validate:"required"`
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.deps.Assistant.Confirm(r.Context(), assistantCaller(r), body.Token, *body.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, domain.New(domain.CodeInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	logs, err := h.deps.Assistant.History(r.Context(), assistantCaller(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": logs})
}

// mustCaller is only used behind the auth middleware, which always sets one.
func mustCaller(r *http.Request) Caller {
	c, _ := CallerFromContext(r.Context())
	return c
}

func assistantCaller(r *http.Request) assistant.Caller {
	c := mustCaller(r)
	return assistant.Caller{AccountID: c.AccountID, Privileged: c.Privileged}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Newf(domain.CodeInvalidRequest, "%s must be a positive integer", name)
	}
	return id, nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, domain.Newf(domain.CodeInvalidRequest, "%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, domain.Newf(domain.CodeInvalidRequest, "%s must be RFC3339", name)
	}
	return t, nil
}
