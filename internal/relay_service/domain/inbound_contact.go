package domain

import (
	"time"

	"github.com/google/uuid"
)

// InboundContact is the per-(relay number, counterpart number) policy and
// usage record. Rows are created lazily on first contact, and only when the
// owning user stores their phone log.
type InboundContact struct {
	ID            uuid.UUID `json:"id"`
	RelayNumberID uuid.UUID `json:"relay_number_id"`
	InboundNumber string    `json:"inbound_number"`
	Blocked       bool      `json:"blocked"`

	NumCalls        int `json:"num_calls"`
	NumTexts        int `json:"num_texts"`
	NumCallsBlocked int `json:"num_calls_blocked"`
	NumTextsBlocked int `json:"num_texts_blocked"`

	LastInboundDate *time.Time `json:"last_inbound_date,omitempty"`
	LastInboundType string     `json:"last_inbound_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
