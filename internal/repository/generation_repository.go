package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/digkill/imagestudio/internal/models"
)

// GenerationRepository stores generation records. Records are insert-only.
type GenerationRepository struct {
	db *sqlx.DB
}

func NewGenerationRepository(db *sqlx.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `id, user_id, kind, environment, intensity, model_variant, request_id, status, cost,
asset_url, COALESCE(failure_reason, '') AS failure_reason, asset_expires_at, created_at`

func (r *GenerationRepository) Create(ctx context.Context, rec *models.GenerationRecord) error {
	const query = `
INSERT INTO generations (id, user_id, kind, environment, intensity, model_variant, request_id, status, cost, asset_url, failure_reason, asset_expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Kind, rec.Environment, rec.Intensity, rec.ModelVariant,
		rec.RequestID, rec.Status, rec.Cost, rec.AssetURL, rec.FailureReason, rec.AssetExpiresAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.GenerationRecord, error) {
	var rec models.GenerationRecord
	err := r.db.GetContext(ctx, &rec, `SELECT `+generationColumns+` FROM generations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return &rec, nil
}

func (r *GenerationRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.GenerationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	records := make([]models.GenerationRecord, 0)
	err := r.db.SelectContext(ctx, &records, `
SELECT `+generationColumns+` FROM generations
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return records, nil
}
