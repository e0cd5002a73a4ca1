package service

import (
	"context"
	"fmt"
	"time"

	"libris/internal/domain"
	"libris/internal/events"
	"libris/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	opCreateBooking = "create_booking"
	opCancelBooking = "cancel_booking"
)

// BookingService owns resource reservations and the balance movements paired
// with them.
type BookingService struct {
	store    domain.Store
	policy   Policy
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewBookingService(store domain.Store, policy Policy, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		store:    store,
		policy:   policy,
		eventBus: eventBus,
		logger:   nopLogger(logger),
		now:      time.Now,
	}
}

// SetClock replaces the time source used for lead time and cancellation checks.
func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *BookingService) Policy() Policy {
	return s.policy
}

type CreateBookingRequest struct {
	AccountID  int64
	ResourceID int64
	Start      time.Time
	End        time.Time
	Notes      string
}

type BookingResult struct {
	Reservation *models.Reservation `json:"reservation"`
	EntryID     int64               `json:"entry_id"`
	Balance     decimal.Decimal     `json:"balance"`
}

func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (result *BookingResult, err error) {
	began := time.Now()
	defer func() { observe(opCreateBooking, began, err) }()

	start, end := req.Start.UTC(), req.End.UTC()
	if err := s.policy.ValidateInterval(start, end, s.now()); err != nil {
		return nil, err
	}

	err = runInTx(ctx, s.store, s.logger, opCreateBooking, domain.CodeSlotConflict, func(tx domain.Tx) error {
		result = nil

		resource, err := tx.GetResource(ctx, req.ResourceID)
		if err != nil {
			return lookupErr(err, "resource", req.ResourceID)
		}
		if err := s.policy.WithinOperatingHours(resource, start, end); err != nil {
			return err
		}

		conflicts, err := tx.ListOverlapping(ctx, resource.ID, start, end)
		if err != nil {
			return fmt.Errorf("failed to check overlap: %w", err)
		}
		if len(conflicts) > 0 {
			return domain.Newf(domain.CodeSlotConflict, "resource %d is booked from %s to %s",
				resource.ID, conflicts[0].Start.Format(time.RFC3339), conflicts[0].End.Format(time.RFC3339))
		}

		account, err := tx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return lookupErr(err, "account", req.AccountID)
		}

		cost := CostFor(resource.HourlyRate, start, end)
		if account.Balance.LessThan(cost) {
			return domain.Newf(domain.CodeInsufficientBalance, "balance %s is below cost %s",
				account.Balance.StringFixed(2), cost.StringFixed(2))
		}

		balance := account.Balance.Sub(cost)
		if err := tx.UpdateBalance(ctx, account.ID, balance, account.Version); err != nil {
			return err
		}

		now := s.now().UTC()
		reservation := &models.Reservation{
			ResourceID: resource.ID,
			AccountID:  account.ID,
			Start:      start,
			End:        end,
			Status:     models.StatusConfirmed,
			Cost:       cost,
			Notes:      req.Notes,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertReservation(ctx, reservation); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			AccountID:     account.ID,
			Kind:          models.EntryKindBookingPayment,
			Amount:        cost,
			Currency:      models.DefaultCurrency,
			ReferenceType: models.ReferenceReservation,
			ReferenceID:   reservation.ID,
			Status:        models.EntryStatusCompleted,
			CreatedAt:     now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		result = &BookingResult{Reservation: reservation, EntryID: entry.ID, Balance: balance}
		return nil
	})
	if err != nil {
		logFailure(s.logger, opCreateBooking, err)
		return nil, err
	}

	r := result.Reservation
	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("account_id", r.AccountID).
		Int64("resource_id", r.ResourceID).
		Str("cost", r.Cost.String()).
		Msg("booking created")

	publish(s.eventBus, s.logger, events.EventBookingCreated, events.BookingEventPayload{
		ReservationID: r.ID,
		AccountID:     r.AccountID,
		ResourceID:    r.ResourceID,
		Start:         r.Start,
		End:           r.End,
		Status:        r.Status,
		Amount:        r.Cost,
		EntryID:       result.EntryID,
		ActorID:       req.AccountID,
	})

	return result, nil
}

type CancelBookingRequest struct {
	AccountID     int64
	ReservationID int64
	// Privileged bypasses the ownership and cancellation window checks.
	Privileged bool
}

type CancelResult struct {
	Reservation *models.Reservation `json:"reservation"`
	Refund      decimal.Decimal     `json:"refund"`
	EntryID     int64               `json:"entry_id"`
}

func (s *BookingService) CancelBooking(ctx context.Context, req CancelBookingRequest) (result *CancelResult, err error) {
	began := time.Now()
	defer func() { observe(opCancelBooking, began, err) }()

	err = runInTx(ctx, s.store, s.logger, opCancelBooking, domain.CodeSlotConflict, func(tx domain.Tx) error {
		result = nil

		reservation, err := tx.GetReservation(ctx, req.ReservationID)
		if err != nil {
			return lookupErr(err, "reservation", req.ReservationID)
		}
		if reservation.AccountID != req.AccountID && !req.Privileged {
			return domain.Newf(domain.CodeForbidden, "reservation %d belongs to another account", reservation.ID)
		}
		if reservation.Status != models.StatusConfirmed {
			return domain.Newf(domain.CodeAlreadyCancelled, "reservation %d is %s", reservation.ID, reservation.Status)
		}

		now := s.now().UTC()
		if !req.Privileged && now.After(reservation.Start.Add(-s.policy.CancellationWindow)) {
			return domain.Newf(domain.CodeCancellationWindowPassed,
				"reservations can be cancelled up to %s before start", s.policy.CancellationWindow)
		}

		if err := tx.UpdateReservationStatus(ctx, reservation.ID, models.StatusConfirmed, models.StatusCancelled); err != nil {
			return err
		}

		// The refund goes to the account that paid, whoever cancels.
		owner, err := tx.GetAccount(ctx, reservation.AccountID)
		if err != nil {
			return lookupErr(err, "account", reservation.AccountID)
		}
		if err := tx.UpdateBalance(ctx, owner.ID, owner.Balance.Add(reservation.Cost), owner.Version); err != nil {
			return err
		}

		entry := &models.LedgerEntry{
			AccountID:     owner.ID,
			Kind:          models.EntryKindRefund,
			Amount:        reservation.Cost,
			Currency:      models.DefaultCurrency,
			ReferenceType: models.ReferenceReservation,
			ReferenceID:   reservation.ID,
			Status:        models.EntryStatusCompleted,
			CreatedAt:     now,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		reservation.Status = models.StatusCancelled
		reservation.UpdatedAt = now
		result = &CancelResult{Reservation: reservation, Refund: reservation.Cost, EntryID: entry.ID}
		return nil
	})
	if err != nil {
		logFailure(s.logger, opCancelBooking, err)
		return nil, err
	}

	r := result.Reservation
	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("actor_id", req.AccountID).
		Bool("privileged", req.Privileged).
		Str("refund", result.Refund.String()).
		Msg("booking cancelled")

	publish(s.eventBus, s.logger, events.EventBookingCancelled, events.BookingEventPayload{
		ReservationID: r.ID,
		AccountID:     r.AccountID,
		ResourceID:    r.ResourceID,
		Start:         r.Start,
		End:           r.End,
		Status:        r.Status,
		Amount:        result.Refund,
		EntryID:       result.EntryID,
		ActorID:       req.AccountID,
		Privileged:    req.Privileged,
	})

	return result, nil
}

type Availability struct {
	ResourceID int64                 `json:"resource_id"`
	Start      time.Time             `json:"start"`
	End        time.Time             `json:"end"`
	Available  bool                  `json:"available"`
	Conflicts  []*models.Reservation `json:"conflicts"`
}

// CheckAvailability reports the confirmed reservations overlapping [start, end).
func (s *BookingService) CheckAvailability(ctx context.Context, resourceID int64, start, end time.Time) (*Availability, error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, domain.New(domain.CodeInvalidRange, "start must be before end")
	}

	if _, err := s.store.GetResource(ctx, resourceID); err != nil {
		return nil, lookupErr(err, "resource", resourceID)
	}

	conflicts, err := s.store.ListOverlapping(ctx, resourceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if conflicts == nil {
		conflicts = []*models.Reservation{}
	}

	return &Availability{
		ResourceID: resourceID,
		Start:      start,
		End:        end,
		Available:  len(conflicts) == 0,
		Conflicts:  conflicts,
	}, nil
}

// ListSlots splits the resource's opening hours on the given local day into
// fixed-size slots. A trailing partial slot is dropped.
func (s *BookingService) ListSlots(ctx context.Context, resourceID int64, day time.Time) ([]models.Slot, error) {
	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, lookupErr(err, "resource", resourceID)
	}

	open, closing, err := s.policy.OperatingWindow(resource, day)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, err, "resource hours are misconfigured")
	}

	reserved, err := s.store.ListOverlapping(ctx, resourceID, open.UTC(), closing.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}

	earliest := s.now().Add(s.policy.LeadTime)
	slots := make([]models.Slot, 0, int(closing.Sub(open)/s.policy.SlotSize))
	for start := open; !start.Add(s.policy.SlotSize).After(closing); start = start.Add(s.policy.SlotSize) {
		slot := models.Slot{Start: start.UTC(), End: start.Add(s.policy.SlotSize).UTC(), Available: true}
		switch {
		case overlapsAny(reserved, slot.Start, slot.End):
			slot.Available = false
			slot.Reason = models.SlotReasonReserved
		case slot.Start.Before(earliest):
			slot.Available = false
			slot.Reason = models.SlotReasonLeadTime
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func overlapsAny(reservations []*models.Reservation, start, end time.Time) bool {
	for _, r := range reservations {
		if r.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// GetReservation returns a reservation visible to the caller.
func (s *BookingService) GetReservation(ctx context.Context, accountID, reservationID int64, privileged bool) (*models.Reservation, error) {
	reservation, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, lookupErr(err, "reservation", reservationID)
	}
	if reservation.AccountID != accountID && !privileged {
		return nil, domain.Newf(domain.CodeForbidden, "reservation %d belongs to another account", reservationID)
	}
	return reservation, nil
}

func (s *BookingService) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]*models.Reservation, error) {
	reservations, err := s.store.ListReservations(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}
