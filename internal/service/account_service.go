package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/repository"
)

type AccountStore interface {
	Get(ctx context.Context, userID int64) (*models.Account, error)
	Ensure(ctx context.Context, userID int64, freeStandard, freeHD int) (*models.Account, bool, error)
	SetUnlimited(ctx context.Context, userID int64, unlimited bool) error
}

type AccountService struct {
	accounts AccountStore
	access   *AccessService
	pricing  config.Pricing
}

func NewAccountService(accounts AccountStore, access *AccessService, pricing config.Pricing) *AccountService {
	return &AccountService{accounts: accounts, access: access, pricing: pricing}
}

// Ensure creates the account with the configured starting free counters if it is new.
func (s *AccountService) Ensure(ctx context.Context, userID int64) (*models.Account, bool, error) {
	if userID <= 0 {
		return nil, false, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	acc, created, err := s.accounts.Ensure(ctx, userID, s.pricing.FreeStandardStart, s.pricing.FreeHDStart)
	if err != nil {
		return nil, false, fmt.Errorf("ensure account: %w", err)
	}
	return acc, created, nil
}

func (s *AccountService) Get(ctx context.Context, userID int64) (*models.Account, error) {
	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// Grant is the manual admin top-up. An empty reference gets a fresh one, so only an
// explicitly repeated reference is deduplicated.
func (s *AccountService) Grant(ctx context.Context, userID int64, grant models.Grant, reference string) (bool, error) {
	if grant.IsZero() {
		return false, fmt.Errorf("%w: grant must add something", ErrInvalidInput)
	}
	if grant.Balance < 0 || grant.FreeStandard < 0 || grant.FreeHD < 0 {
		return false, fmt.Errorf("%w: grant amounts cannot be negative", ErrInvalidInput)
	}
	if reference == "" {
		reference = uuid.NewString()
	}
	return s.access.Credit(ctx, userID, grant, models.TxAdminGrant, "admin:"+reference)
}

func (s *AccountService) SetUnlimited(ctx context.Context, userID int64, unlimited bool) error {
	if err := s.accounts.SetUnlimited(ctx, userID, unlimited); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}
