package app

import "context"

// NumberDetails is the carrier metadata for an E.164 number.
type NumberDetails struct {
	CountryCode string
	Carrier     string
}

// Dispatcher is the outbound boundary to the telephony carrier. The engine
// only manipulates call/text metadata through it; media handling stays on the
// carrier's side.
type Dispatcher interface {
	// SendMessage submits an outbound SMS and returns the provider message
	// SID. statusCallback may be empty.
	SendMessage(ctx context.Context, from, to, body, statusCallback string) (string, error)
	// EndCall removes the provider-side call resource after completion.
	EndCall(ctx context.Context, callSID string) error
	// DeleteMessage removes the provider-side message record. Returns
	// domain.ErrProviderNotFound when the record is already gone.
	DeleteMessage(ctx context.Context, messageSID string) error
	LookupNumberDetails(ctx context.Context, e164Number string) (*NumberDetails, error)
}

// EventPublisher is the sink for relay events. Implementations must be safe
// to call from concurrent webhook handlers.
type EventPublisher interface {
	PublishJSON(ctx context.Context, subject string, payload any) error
}
