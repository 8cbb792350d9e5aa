package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagestudio/internal/models"
)

func TestSavePaymentKeepsFinishedStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	payment := &models.Payment{
		UserID:            42,
		PackageID:         3,
		Provider:          "nowpayments",
		ProviderPaymentID: "pay-1",
		Currency:          "usd",
		Amount:            "9.99",
		Status:            "confirming",
		RawPayload:        `{"payment_status":"confirming"}`,
	}

	mock.ExpectExec(q("INSERT INTO payments")+"(?s).*"+
		q("raw_payload = IF(status = 'finished', raw_payload, VALUES(raw_payload))")+"(?s).*"+
		q("status = IF(status = 'finished', status, VALUES(status))")).
		WithArgs(int64(42), int64(3), "nowpayments", "pay-1", "usd", "9.99", "confirming", `{"payment_status":"confirming"}`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Save(context.Background(), payment))
	assert.NoError(t, mock.ExpectationsWereMet())
}
