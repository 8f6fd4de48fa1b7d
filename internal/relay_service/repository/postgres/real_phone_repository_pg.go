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

type PgRealPhoneRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgRealPhoneRepository(db *pgxpool.Pool, logger *slog.Logger) repository.RealPhoneRepository {
	return &PgRealPhoneRepository{db: db, logger: logger.With("component", "real_phone_repository_pg")}
}

// GetVerifiedByUser returns the user's verified real phone. At most one
// verified row exists per user; verification is enforced upstream.
func (r *PgRealPhoneRepository) GetVerifiedByUser(ctx context.Context, userID uuid.UUID) (*domain.RealPhone, error) {
	query := `SELECT id, user_id, number, verified, country_code, created_at
		FROM real_phones
		WHERE user_id = $1 AND verified = TRUE
		LIMIT 1`
	var rp domain.RealPhone
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&rp.ID, &rp.UserID, &rp.Number, &rp.Verified, &rp.CountryCode, &rp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get verified real phone", "error", err, "user_id", userID)
		return nil, fmt.Errorf("getting verified real phone: %w", err)
	}
	return &rp, nil
}

type PgProfileRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgProfileRepository(db *pgxpool.Pool, logger *slog.Logger) repository.ProfileRepository {
	return &PgProfileRepository{db: db, logger: logger.With("component", "profile_repository_pg")}
}

func (r *PgProfileRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	query := `SELECT id, user_id, store_phone_log FROM profiles WHERE user_id = $1`
	var p domain.Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.ID, &p.UserID, &p.StorePhoneLog)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get profile", "error", err, "user_id", userID)
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return &p, nil
}
