package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/digkill/imagestudio/internal/models"
)

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Save inserts the payment or, when the provider id is already known, refreshes its status
// and payload. A finished payment is terminal and keeps its stored status and payload.
func (r *PaymentRepository) Save(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, package_id, provider, provider_payment_id, currency, amount, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	raw_payload = IF(status = 'finished', raw_payload, VALUES(raw_payload)),
	status = IF(status = 'finished', status, VALUES(status)),
	updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, payment.UserID, payment.PackageID, payment.Provider, payment.ProviderPaymentID,
		payment.Currency, payment.Amount, payment.Status, payment.RawPayload)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	return nil
}
