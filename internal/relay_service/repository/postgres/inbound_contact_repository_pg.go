package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymask/golang_services/internal/relay_service/domain"
	"github.com/relaymask/golang_services/internal/relay_service/repository"
)

type PgInboundContactRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgInboundContactRepository(db *pgxpool.Pool, logger *slog.Logger) repository.InboundContactRepository {
	return &PgInboundContactRepository{db: db, logger: logger.With("component", "inbound_contact_repository_pg")}
}

const inboundContactColumns = `id, relay_number_id, inbound_number, blocked,
	num_calls, num_texts, num_calls_blocked, num_texts_blocked,
	last_inbound_date, last_inbound_type, created_at`

func scanInboundContact(row pgx.Row) (*domain.InboundContact, error) {
	var (
		c               domain.InboundContact
		lastInboundDate *time.Time
		lastInboundType *string
	)
	err := row.Scan(
		&c.ID, &c.RelayNumberID, &c.InboundNumber, &c.Blocked,
		&c.NumCalls, &c.NumTexts, &c.NumCallsBlocked, &c.NumTextsBlocked,
		&lastInboundDate, &lastInboundType, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.LastInboundDate = lastInboundDate
	if lastInboundType != nil {
		c.LastInboundType = *lastInboundType
	}
	return &c, nil
}

// GetOrCreate upserts the contact row keyed by (relay_number_id,
// inbound_number). The no-op DO UPDATE makes the insert return the existing
// row, so concurrent first contacts from the same number converge on one row.
func (r *PgInboundContactRepository) GetOrCreate(ctx context.Context, relayNumberID uuid.UUID, inboundNumber string) (*domain.InboundContact, error) {
	query := fmt.Sprintf(`INSERT INTO inbound_contacts (id, relay_number_id, inbound_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (relay_number_id, inbound_number)
		DO UPDATE SET inbound_number = EXCLUDED.inbound_number
		RETURNING %s`, inboundContactColumns)
	contact, err := scanInboundContact(r.db.QueryRow(ctx, query, uuid.New(), relayNumberID, inboundNumber))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to get or create inbound contact",
			"error", err, "relay_number_id", relayNumberID, "inbound_number", inboundNumber)
		return nil, fmt.Errorf("getting or creating inbound contact: %w", err)
	}
	return contact, nil
}

func (r *PgInboundContactRepository) RecordContact(ctx context.Context, contactID uuid.UUID, kind domain.ContactKind, at time.Time) error {
	var query string
	if kind == domain.ContactKindCall {
		query = `UPDATE inbound_contacts
			SET num_calls = num_calls + 1, last_inbound_date = $2, last_inbound_type = $3
			WHERE id = $1`
	} else {
		query = `UPDATE inbound_contacts
			SET num_texts = num_texts + 1, last_inbound_date = $2, last_inbound_type = $3
			WHERE id = $1`
	}
	tag, err := r.db.Exec(ctx, query, contactID, at, kind.String())
	if err != nil {
		return fmt.Errorf("recording %s contact: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordBlockedContact commits the per-contact and per-relay-number blocked
// counters together; a redelivered webhook re-increments both, never one.
func (r *PgInboundContactRepository) RecordBlockedContact(ctx context.Context, contactID, relayNumberID uuid.UUID, kind domain.ContactKind) error {
	var contactQuery, relayQuery string
	if kind == domain.ContactKindCall {
		contactQuery = `UPDATE inbound_contacts SET num_calls_blocked = num_calls_blocked + 1 WHERE id = $1`
		relayQuery = `UPDATE relay_numbers SET calls_blocked = calls_blocked + 1, updated_at = now() WHERE id = $1`
	} else {
		contactQuery = `UPDATE inbound_contacts SET num_texts_blocked = num_texts_blocked + 1 WHERE id = $1`
		relayQuery = `UPDATE relay_numbers SET texts_blocked = texts_blocked + 1, updated_at = now() WHERE id = $1`
	}

	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if tag, err := tx.Exec(ctx, contactQuery, contactID); err != nil {
			return fmt.Errorf("incrementing contact blocked counter: %w", err)
		} else if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		if tag, err := tx.Exec(ctx, relayQuery, relayNumberID); err != nil {
			return fmt.Errorf("incrementing relay blocked counter: %w", err)
		} else if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to record blocked contact",
			"error", err, "contact_id", contactID, "relay_number_id", relayNumberID, "kind", kind)
	}
	return err
}

func (r *PgInboundContactRepository) GetLastTextSender(ctx context.Context, relayNumberID uuid.UUID) (*domain.InboundContact, error) {
	query := fmt.Sprintf(`SELECT %s FROM inbound_contacts
		WHERE relay_number_id = $1 AND last_inbound_type = 'text'
		ORDER BY last_inbound_date DESC
		LIMIT 1`, inboundContactColumns)
	contact, err := scanInboundContact(r.db.QueryRow(ctx, query, relayNumberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting last text sender: %w", err)
	}
	return contact, nil
}
