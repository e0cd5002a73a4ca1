package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is an append-only record of a balance mutation.
type LedgerEntry struct {
	ID            int64           `json:"id"`
	AccountID     int64           `json:"account_id"`
	Kind          string          `json:"kind"` // purchase, booking_payment, refund
	Amount        decimal.Decimal `json:"amount"`
	Quantity      int             `json:"quantity,omitempty"`
	Currency      string          `json:"currency"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
