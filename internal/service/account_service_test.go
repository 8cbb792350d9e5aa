package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imagestudio/internal/models"
)

func TestEnsureUsesConfiguredStartingCounters(t *testing.T) {
	ledger := newMemLedger()
	svc := NewAccountService(ledger, newAccess(ledger), testPricing)

	acc, created, err := svc.Ensure(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 0, acc.Balance)
	assert.Equal(t, 3, acc.FreeStandard)
	assert.Equal(t, 1, acc.FreeHD)

	_, created, err = svc.Ensure(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGrantIsIdempotentOnReference(t *testing.T) {
	ledger := newMemLedger(models.Account{UserID: testUser})
	svc := NewAccountService(ledger, newAccess(ledger), testPricing)

	applied, err := svc.Grant(context.Background(), testUser, models.Grant{Balance: 50, FreeStandard: 1}, "ticket-17")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.Grant(context.Background(), testUser, models.Grant{Balance: 50, FreeStandard: 1}, "ticket-17")
	require.NoError(t, err)
	assert.False(t, applied)

	acc := ledger.snapshot(testUser)
	assert.Equal(t, 50, acc.Balance)
	assert.Equal(t, 1, acc.FreeStandard)
}

func TestGrantValidation(t *testing.T) {
	ledger := newMemLedger(models.Account{UserID: testUser})
	svc := NewAccountService(ledger, newAccess(ledger), testPricing)

	_, err := svc.Grant(context.Background(), testUser, models.Grant{}, "")
	assert.Error(t, err)
	_, err = svc.Grant(context.Background(), testUser, models.Grant{Balance: -5}, "")
	assert.Error(t, err)
	_, err = svc.Grant(context.Background(), 999, models.Grant{Balance: 5}, "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSetUnlimitedMissingAccount(t *testing.T) {
	ledger := newMemLedger()
	svc := NewAccountService(ledger, newAccess(ledger), testPricing)

	assert.ErrorIs(t, svc.SetUnlimited(context.Background(), 5, true), ErrAccountNotFound)
	_, err := svc.Get(context.Background(), 5)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
