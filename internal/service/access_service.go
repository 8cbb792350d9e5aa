package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/models"
	"github.com/digkill/imagestudio/internal/repository"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidKind         = errors.New("unknown operation kind")
	ErrEnvironmentRequired = errors.New("environment is required")
	ErrInvalidInput        = errors.New("invalid input")
)

// InsufficientCreditError rejects a paid operation the balance cannot cover.
type InsufficientCreditError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: required %d, available %d", e.Required, e.Available)
}

// AccountLedger is the storage the access engine mutates. Every mutating method must be a
// single conditional update in the backing store.
type AccountLedger interface {
	Get(ctx context.Context, userID int64) (*models.Account, error)
	Balance(ctx context.Context, userID int64) (int, bool, error)
	RecordUsage(ctx context.Context, entry models.UsageEntry) error
	ConsumeFree(ctx context.Context, entry models.UsageEntry) (bool, error)
	Debit(ctx context.Context, entry models.UsageEntry) (int, bool, error)
	Credit(ctx context.Context, userID int64, grant models.Grant, txType models.TxType, reference string) (bool, error)
}

// AccessService is the only writer of balances and free counters.
type AccessService struct {
	accounts AccountLedger
	pricing  config.Pricing
	log      *slog.Logger
}

func NewAccessService(accounts AccountLedger, pricing config.Pricing, log *slog.Logger) *AccessService {
	return &AccessService{
		accounts: accounts,
		pricing:  pricing,
		log:      log,
	}
}

func (s *AccessService) Pricing() config.Pricing {
	return s.pricing
}

// Evaluate decides whether userID may run one operation of kind and applies its cost. A grant
// mutates at most one of: nothing (unlimited or zero cost), the kind's free counter, or the
// balance together with total_spent. Every grant leaves a usage log row.
func (s *AccessService) Evaluate(ctx context.Context, userID int64, kind models.OperationKind, environment string) (*models.Decision, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if environment == "" {
		return nil, ErrEnvironmentRequired
	}

	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}

	entry := models.UsageEntry{UserID: userID, Kind: kind, Environment: environment}

	if acc.IsUnlimited {
		entry.Source = models.SourceUnlimited
		if err := s.accounts.RecordUsage(ctx, entry); err != nil {
			return nil, err
		}
		return s.grant(acc.Balance, 0, models.SourceUnlimited, kind), nil
	}

	if kind.HasFreeCounter() && acc.FreeRemaining(kind) > 0 {
		entry.Source = models.SourceFree
		used, err := s.accounts.ConsumeFree(ctx, entry)
		if err != nil {
			return nil, err
		}
		if used {
			return s.grant(acc.Balance, 0, models.SourceFree, kind), nil
		}
		// Another request took the last free slot since the read.
		s.log.Debug("free slot already consumed, falling back to paid path", "user_id", userID, "kind", kind)
	}

	cost := s.pricing.Price(kind)
	if cost == 0 {
		entry.Source = models.SourceZeroCost
		if err := s.accounts.RecordUsage(ctx, entry); err != nil {
			return nil, err
		}
		return s.grant(acc.Balance, 0, models.SourceZeroCost, kind), nil
	}

	entry.Source = models.SourcePaid
	entry.Cost = cost
	remaining, ok, err := s.accounts.Debit(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		available, found, err := s.accounts.Balance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if !found {
			return nil, ErrAccountNotFound
		}
		return nil, &InsufficientCreditError{Required: cost, Available: available}
	}

	s.log.Info("operation paid", "user_id", userID, "kind", kind, "cost", cost, "remaining", remaining)
	return s.grant(remaining, cost, models.SourcePaid, kind), nil
}

// Refund gives back what decision charged: the free slot or the debited credits. It is
// idempotent on reference and reports whether anything was returned.
func (s *AccessService) Refund(ctx context.Context, userID int64, decision *models.Decision, reference string) (bool, error) {
	if decision == nil || !decision.Granted {
		return false, nil
	}

	var grant models.Grant
	switch decision.Source {
	case models.SourceFree:
		switch decision.Kind {
		case models.KindStandard:
			grant.FreeStandard = 1
		case models.KindHD:
			grant.FreeHD = 1
		}
	case models.SourcePaid:
		grant.Balance = decision.Cost
	}
	if grant.IsZero() {
		return false, nil
	}

	applied, err := s.Credit(ctx, userID, grant, models.TxRefund, reference)
	if err != nil {
		return false, fmt.Errorf("refund: %w", err)
	}
	if !applied {
		s.log.Warn("refund already applied", "user_id", userID, "reference", reference)
	}
	return applied, nil
}

// Credit adds grant to the account once per (txType, reference).
func (s *AccessService) Credit(ctx context.Context, userID int64, grant models.Grant, txType models.TxType, reference string) (bool, error) {
	if reference == "" {
		return false, fmt.Errorf("%w: credit reference is required", ErrInvalidInput)
	}
	applied, err := s.accounts.Credit(ctx, userID, grant, txType, reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrAccountNotFound
		}
		return false, err
	}
	if applied {
		s.log.Info("account credited", "user_id", userID, "type", txType, "reference", reference,
			"balance", grant.Balance, "free_standard", grant.FreeStandard, "free_hd", grant.FreeHD)
	}
	return applied, nil
}

func (s *AccessService) grant(remaining, cost int, source models.GrantSource, kind models.OperationKind) *models.Decision {
	return &models.Decision{
		Granted:          true,
		Cost:             cost,
		RemainingBalance: remaining,
		Source:           source,
		Kind:             kind,
	}
}
