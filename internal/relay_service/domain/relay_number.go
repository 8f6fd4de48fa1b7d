package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContactKind distinguishes the two relayed resource kinds. The stored form
// is singular ("call", "text") to match InboundContact.LastInboundType.
type ContactKind string

const (
	ContactKindCall ContactKind = "call"
	ContactKindText ContactKind = "text"
)

func (k ContactKind) String() string { return string(k) }

// Plural returns the form used in metric and event names ("calls", "texts").
func (k ContactKind) Plural() string {
	if k == ContactKindCall {
		return "calls"
	}
	return "texts"
}

// QuotaResource returns the remaining-quota resource consumed by this kind:
// voice is metered in seconds, SMS in texts.
func (k ContactKind) QuotaResource() string {
	if k == ContactKindCall {
		return "seconds"
	}
	return "texts"
}

// RelayNumber is the proxy E.164 number owned by a user. Counters are only
// ever adjusted by the relay session engine; remaining counters may go
// negative as an over-limit signal.
type RelayNumber struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Number         string    `json:"number"`
	Enabled        bool      `json:"enabled"`
	VCardLookupKey string    `json:"vcard_lookup_key"`

	RemainingSeconds int `json:"remaining_seconds"`
	RemainingTexts   int `json:"remaining_texts"`
	CallsForwarded   int `json:"calls_forwarded"`
	CallsBlocked     int `json:"calls_blocked"`
	TextsForwarded   int `json:"texts_forwarded"`
	TextsBlocked     int `json:"texts_blocked"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the quota balance gating the given kind.
func (r *RelayNumber) Remaining(kind ContactKind) int {
	if kind == ContactKindCall {
		return r.RemainingSeconds
	}
	return r.RemainingTexts
}
