package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relaymask/golang_services/internal/relay_service/domain"
)

// RelayNumberRepository persists relay numbers and their usage counters.
// Counter mutations are relative, single-row updates so concurrent webhooks
// for the same number cannot lose increments.
type RelayNumberRepository interface {
	GetByNumber(ctx context.Context, number string) (*domain.RelayNumber, error)
	// DecrementRemainingTexts spends one text and bumps texts_forwarded.
	DecrementRemainingTexts(ctx context.Context, id uuid.UUID) error
	// DecrementRemainingSeconds debits a completed call's duration and
	// returns the new balance, which may be negative.
	DecrementRemainingSeconds(ctx context.Context, id uuid.UUID, seconds int) (int, error)
	IncrementCallsForwarded(ctx context.Context, id uuid.UUID) error
	// IncrementBlocked bumps calls_blocked or texts_blocked.
	IncrementBlocked(ctx context.Context, id uuid.UUID, kind domain.ContactKind) error
}

// RealPhoneRepository reads verified real phone numbers.
type RealPhoneRepository interface {
	GetVerifiedByUser(ctx context.Context, userID uuid.UUID) (*domain.RealPhone, error)
}

// ProfileRepository reads per-user relay settings.
type ProfileRepository interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
}

// InboundContactRepository persists per-counterpart policy records.
type InboundContactRepository interface {
	// GetOrCreate idempotently fetches or creates the record keyed by
	// (relayNumberID, inboundNumber).
	GetOrCreate(ctx context.Context, relayNumberID uuid.UUID, inboundNumber string) (*domain.InboundContact, error)
	// RecordContact bumps num_calls/num_texts and stamps the last inbound
	// date and type (singular form).
	RecordContact(ctx context.Context, contactID uuid.UUID, kind domain.ContactKind, at time.Time) error
	// RecordBlockedContact bumps the contact's num_{kind}_blocked and the
	// relay number's {kind}_blocked inside one transaction.
	RecordBlockedContact(ctx context.Context, contactID, relayNumberID uuid.UUID, kind domain.ContactKind) error
	// GetLastTextSender returns the contact that most recently texted the
	// relay number, or domain.ErrNotFound.
	GetLastTextSender(ctx context.Context, relayNumberID uuid.UUID) (*domain.InboundContact, error)
}
