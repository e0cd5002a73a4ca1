package assistant

import (
	"regexp"
	"strings"
)

// Intents produced by Classify.
const (
	IntentBooks     = "books"
	IntentResources = "resources"
	IntentBookings  = "bookings"
	IntentBalance   = "balance"
	IntentConfirm   = "confirm"
	IntentDecline   = "decline"
	IntentGeneral   = "general"
)

var (
	confirmWords = map[string]bool{"yes": true, "y": true, "confirm": true, "ok": true, "okay": true, "sure": true}
	declineWords = map[string]bool{"no": true, "n": true, "decline": true, "nope": true, "abort": true}

	// Checked in order; the first matching group wins.
	intentKeywords = []struct {
		intent   string
		keywords []string
	}{
		{IntentBookings, []string{"my booking", "my reservation", "bookings", "reservations", "cancel"}},
		{IntentBalance, []string{"balance", "funds", "how much money", "transactions"}},
		{IntentResources, []string{"room", "desk", "seat", "resource", "reserve", "book a ", "slot", "available", "availability"}},
		{IntentBooks, []string{"book", "author", "title", "isbn", "buy", "purchase", "read"}},
	}

	quoted = regexp.MustCompile(`["“]([^"”]+)["”]`)
)

// Classify maps a free-text message to an intent by keyword. A bare yes/no
// reply is a confirmation or a decline.
func Classify(message string) string {
	text := strings.ToLower(strings.TrimSpace(message))
	bare := strings.Trim(text, ".!? ")
	if confirmWords[bare] {
		return IntentConfirm
	}
	if declineWords[bare] {
		return IntentDecline
	}

	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.intent
			}
		}
	}
	return IntentGeneral
}

// quotedQuery returns the first quoted phrase of the message, if any.
func quotedQuery(message string) string {
	m := quoted.FindStringSubmatch(message)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
