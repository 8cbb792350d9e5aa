package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/digkill/imagestudio/internal/models"
)

type PromptRepository struct {
	db *sqlx.DB
}

func NewPromptRepository(db *sqlx.DB) *PromptRepository {
	return &PromptRepository{db: db}
}

const promptColumns = `id, model_variant, intensity, environment, template, created_at, updated_at`

// Find returns the stored override for the exact key, or nil when none exists.
func (r *PromptRepository) Find(ctx context.Context, variant models.ModelVariant, intensity, environment string) (*models.PromptTemplate, error) {
	var tpl models.PromptTemplate
	err := r.db.GetContext(ctx, &tpl, `
SELECT `+promptColumns+` FROM prompt_templates
WHERE model_variant = ? AND intensity = ? AND environment = ?`, variant, intensity, environment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find prompt template: %w", err)
	}
	return &tpl, nil
}

func (r *PromptRepository) List(ctx context.Context) ([]models.PromptTemplate, error) {
	templates := make([]models.PromptTemplate, 0)
	if err := r.db.SelectContext(ctx, &templates, `SELECT `+promptColumns+` FROM prompt_templates ORDER BY model_variant, intensity, environment`); err != nil {
		return nil, fmt.Errorf("list prompt templates: %w", err)
	}
	return templates, nil
}

// Upsert stores the template for its key, replacing any previous text.
func (r *PromptRepository) Upsert(ctx context.Context, tpl *models.PromptTemplate) (*models.PromptTemplate, error) {
	const query = `
INSERT INTO prompt_templates (model_variant, intensity, environment, template)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE template = VALUES(template), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, tpl.ModelVariant, tpl.Intensity, tpl.Environment, tpl.Template); err != nil {
		return nil, fmt.Errorf("upsert prompt template: %w", err)
	}
	return r.Find(ctx, tpl.ModelVariant, tpl.Intensity, tpl.Environment)
}

func (r *PromptRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM prompt_templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete prompt template: %w", err)
	}
	return nil
}
