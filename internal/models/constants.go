package models

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

const (
	EntryKindPurchase       = "purchase"
	EntryKindBookingPayment = "booking_payment"
	EntryKindRefund         = "refund"
)

const (
	EntryStatusCompleted = "completed"
	EntryStatusFailed    = "failed"
	EntryStatusRefunded  = "refunded"
)

const (
	ReferenceReservation = "reservation"
	ReferenceBook        = "book"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

const (
	ResourceRoom      = "room"
	ResourceSeat      = "seat"
	ResourceEquipment = "equipment"
)

const (
	DefaultCurrency = "USD"

	// DefaultSessionTTL is the assistant session lifetime in seconds.
	DefaultSessionTTL = 30 * 60

	// RateLimitMessages is the number of assistant messages allowed per window.
	RateLimitMessages = 20

	// RateLimitWindow is the assistant rate limit window in seconds.
	RateLimitWindow = 60
)
