package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Reservation struct {
	ID         int64           `json:"id"`
	ResourceID int64           `json:"resource_id"`
	AccountID  int64           `json:"account_id"`
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Status     string          `json:"status"` // confirmed, cancelled
	Cost       decimal.Decimal `json:"cost"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Overlaps reports whether the reservation intersects [start, end) under
// half-open semantics. Touching intervals do not overlap.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.Start.Before(end) && r.End.After(start)
}

func (r *Reservation) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
}

const (
	SlotReasonReserved = "reserved"
	SlotReasonLeadTime = "lead_time"
)
