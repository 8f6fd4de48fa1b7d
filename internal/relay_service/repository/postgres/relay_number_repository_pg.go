package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymask/golang_services/internal/relay_service/domain"
	"github.com/relaymask/golang_services/internal/relay_service/repository"
)

type PgRelayNumberRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgRelayNumberRepository(db *pgxpool.Pool, logger *slog.Logger) repository.RelayNumberRepository {
	return &PgRelayNumberRepository{db: db, logger: logger.With("component", "relay_number_repository_pg")}
}

const relayNumberColumns = `id, user_id, number, enabled, vcard_lookup_key,
	remaining_seconds, remaining_texts, calls_forwarded, calls_blocked,
	texts_forwarded, texts_blocked, created_at, updated_at`

func scanRelayNumber(row pgx.Row) (*domain.RelayNumber, error) {
	var rn domain.RelayNumber
	err := row.Scan(
		&rn.ID, &rn.UserID, &rn.Number, &rn.Enabled, &rn.VCardLookupKey,
		&rn.RemainingSeconds, &rn.RemainingTexts, &rn.CallsForwarded, &rn.CallsBlocked,
		&rn.TextsForwarded, &rn.TextsBlocked, &rn.CreatedAt, &rn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rn, nil
}

func (r *PgRelayNumberRepository) GetByNumber(ctx context.Context, number string) (*domain.RelayNumber, error) {
	query := fmt.Sprintf(`SELECT %s FROM relay_numbers WHERE number = $1`, relayNumberColumns)
	rn, err := scanRelayNumber(r.db.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get relay number", "error", err, "number", number)
		return nil, fmt.Errorf("getting relay number: %w", err)
	}
	return rn, nil
}

func (r *PgRelayNumberRepository) DecrementRemainingTexts(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE relay_numbers
		SET remaining_texts = remaining_texts - 1,
		    texts_forwarded = texts_forwarded + 1,
		    updated_at = now()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("decrementing remaining texts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgRelayNumberRepository) DecrementRemainingSeconds(ctx context.Context, id uuid.UUID, seconds int) (int, error) {
	query := `UPDATE relay_numbers
		SET remaining_seconds = remaining_seconds - $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING remaining_seconds`
	var remaining int
	if err := r.db.QueryRow(ctx, query, id, seconds).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("decrementing remaining seconds: %w", err)
	}
	return remaining, nil
}

func (r *PgRelayNumberRepository) IncrementCallsForwarded(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE relay_numbers
		SET calls_forwarded = calls_forwarded + 1, updated_at = now()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("incrementing calls forwarded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgRelayNumberRepository) IncrementBlocked(ctx context.Context, id uuid.UUID, kind domain.ContactKind) error {
	var query string
	if kind == domain.ContactKindCall {
		query = `UPDATE relay_numbers SET calls_blocked = calls_blocked + 1, updated_at = now() WHERE id = $1`
	} else {
		query = `UPDATE relay_numbers SET texts_blocked = texts_blocked + 1, updated_at = now() WHERE id = $1`
	}
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("incrementing %s blocked: %w", kind.Plural(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
