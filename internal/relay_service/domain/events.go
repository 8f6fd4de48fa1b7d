package domain

import (
	"time"

	"github.com/google/uuid"
)

// NATS subjects for relay events. Consumers are operational tooling
// (alerting, usage dashboards); nothing in the request path depends on them.
const (
	SubjectSmsForwarded   = "relay.sms.forwarded"
	SubjectCallForwarded  = "relay.call.forwarded"
	SubjectContactBlocked = "relay.contact.blocked"
	SubjectLimitExceeded  = "relay.limit.exceeded"
)

// RelayEvent is published when an inbound event is forwarded or blocked.
type RelayEvent struct {
	RelayNumberID uuid.UUID   `json:"relay_number_id"`
	UserID        uuid.UUID   `json:"user_id"`
	Kind          ContactKind `json:"kind"`
	// GlobalBlock is true when the whole relay number was disabled, as
	// opposed to a per-contact block.
	GlobalBlock bool      `json:"global_block,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// LimitExceededEvent is published when a completed call drives the remaining
// seconds balance negative.
type LimitExceededEvent struct {
	RelayNumberID         uuid.UUID `json:"relay_number_id"`
	UserID                uuid.UUID `json:"user_id"`
	CallDurationInSeconds int       `json:"call_duration_in_seconds"`
	RelayNumberEnabled    bool      `json:"relay_number_enabled"`
	RemainingSeconds      int       `json:"remaining_seconds"`
	OccurredAt            time.Time `json:"occurred_at"`
}
