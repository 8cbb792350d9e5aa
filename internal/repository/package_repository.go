package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/digkill/imagestudio/internal/models"
)

type PackageRepository struct {
	db *sqlx.DB
}

func NewPackageRepository(db *sqlx.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

const packageColumns = `id, title, currency, price_minor_units, balance_credits, free_standard, free_hd, is_active, created_at, updated_at`

func (r *PackageRepository) List(ctx context.Context) ([]models.CreditPackage, error) {
	packages := make([]models.CreditPackage, 0)
	if err := r.db.SelectContext(ctx, &packages, `SELECT `+packageColumns+` FROM credit_packages ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return packages, nil
}

func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := r.db.GetContext(ctx, &pkg, `SELECT `+packageColumns+` FROM credit_packages WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	return &pkg, nil
}

func (r *PackageRepository) Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
INSERT INTO credit_packages (title, currency, price_minor_units, balance_credits, free_standard, free_hd, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Currency, pkg.PriceMinorUnits, pkg.BalanceCredits, pkg.FreeStandard, pkg.FreeHD, pkg.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("package last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackageRepository) Update(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error) {
	const query = `
UPDATE credit_packages
SET title = ?, currency = ?, price_minor_units = ?, balance_credits = ?, free_standard = ?, free_hd = ?, is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pkg.Title, pkg.Currency, pkg.PriceMinorUnits, pkg.BalanceCredits, pkg.FreeStandard, pkg.FreeHD, pkg.IsActive, pkg.ID); err != nil {
		return nil, fmt.Errorf("update package: %w", err)
	}
	return r.GetByID(ctx, pkg.ID)
}

func (r *PackageRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credit_packages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return nil
}
