package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/models"

	"github.com/shopspring/decimal"
)

// Policy holds the booking rules applied before any reservation is written.
type Policy struct {
	MaxDuration        time.Duration
	LeadTime           time.Duration
	CancellationWindow time.Duration
	SlotSize           time.Duration
	Location           *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		MaxDuration:        8 * time.Hour,
		LeadTime:           15 * time.Minute,
		CancellationWindow: time.Hour,
		SlotSize:           30 * time.Minute,
		Location:           time.UTC,
	}
}

func PolicyFromConfig(cfg config.LedgerConfig) (Policy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Policy{}, fmt.Errorf("load timezone: %w", err)
	}
	return Policy{
		MaxDuration:        cfg.MaxDuration,
		LeadTime:           cfg.LeadTime,
		CancellationWindow: cfg.CancellationWindow,
		SlotSize:           cfg.SlotSize,
		Location:           loc,
	}, nil
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// ValidateInterval runs the checks that need no stored state, in order:
// range, duration, lead time.
func (p Policy) ValidateInterval(start, end, now time.Time) error {
	if !start.Before(end) {
		return domain.New(domain.CodeInvalidRange, "start must be before end")
	}
	if end.Sub(start) > p.MaxDuration {
		return domain.Newf(domain.CodeDurationExceeded, "booking may not exceed %s", p.MaxDuration)
	}
	if start.Before(now.Add(p.LeadTime)) {
		return domain.Newf(domain.CodeLeadTimeTooShort, "booking must start at least %s from now", p.LeadTime)
	}
	return nil
}

// OperatingWindow returns the resource's [open, close) interval on the local
// calendar day of day.
func (p Policy) OperatingWindow(resource *models.Resource, day time.Time) (time.Time, time.Time, error) {
	openH, openM, err := parseClock(resource.OpenHour)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("resource %d open_hour: %w", resource.ID, err)
	}
	closeH, closeM, err := parseClock(resource.CloseHour)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("resource %d close_hour: %w", resource.ID, err)
	}

	loc := p.location()
	y, m, d := day.In(loc).Date()
	open := time.Date(y, m, d, openH, openM, 0, 0, loc)
	closing := time.Date(y, m, d, closeH, closeM, 0, 0, loc)
	if !open.Before(closing) {
		return time.Time{}, time.Time{}, fmt.Errorf("resource %d closes before it opens", resource.ID)
	}
	return open, closing, nil
}

// WithinOperatingHours checks [start, end) against the window of the local
// day on which start falls.
func (p Policy) WithinOperatingHours(resource *models.Resource, start, end time.Time) error {
	open, closing, err := p.OperatingWindow(resource, start)
	if err != nil {
		return domain.Wrap(domain.CodeInternal, err, "resource hours are misconfigured")
	}
	if start.Before(open) || end.After(closing) {
		return domain.Newf(domain.CodeOutsideOperatingHours, "resource is open %s-%s", resource.OpenHour, resource.CloseHour)
	}
	return nil
}

// CostFor prices [start, end) at the hourly rate, rounded to cents.
func CostFor(rate decimal.Decimal, start, end time.Time) decimal.Decimal {
	seconds := decimal.NewFromInt(int64(end.Sub(start) / time.Second))
	return rate.Mul(seconds).Div(decimal.NewFromInt(3600)).Round(2)
}

// parseClock accepts "HH:MM" with 24:00 allowed as end of day.
func parseClock(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", value)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, 0, fmt.Errorf("invalid clock %q", value)
	}
	return h, m, nil
}
