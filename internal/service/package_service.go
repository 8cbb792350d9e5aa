package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/digkill/imagestudio/internal/models"
)

var ErrPackageNotFound = errors.New("credit package not found")

type PackageStore interface {
	List(ctx context.Context) ([]models.CreditPackage, error)
	GetByID(ctx context.Context, id int64) (*models.CreditPackage, error)
	Create(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error)
	Update(ctx context.Context, pkg *models.CreditPackage) (*models.CreditPackage, error)
	Delete(ctx context.Context, id int64) error
}

type PackageService struct {
	repo PackageStore
}

type CreatePackageInput struct {
	Title           string `json:"title" validate:"required,max=255"`
	Currency        string `json:"currency" validate:"required,max=16"`
	PriceMinorUnits int    `json:"price_minor_units" validate:"gt=0"`
	BalanceCredits  int    `json:"balance_credits" validate:"gte=0"`
	FreeStandard    int    `json:"free_standard" validate:"gte=0"`
	FreeHD          int    `json:"free_hd" validate:"gte=0"`
	IsActive        *bool  `json:"is_active"`
}

type UpdatePackageInput struct {
	Title           *string `json:"title" validate:"omitempty,max=255"`
	Currency        *string `json:"currency" validate:"omitempty,max=16"`
	PriceMinorUnits *int    `json:"price_minor_units" validate:"omitempty,gt=0"`
	BalanceCredits  *int    `json:"balance_credits" validate:"omitempty,gte=0"`
	FreeStandard    *int    `json:"free_standard" validate:"omitempty,gte=0"`
	FreeHD          *int    `json:"free_hd" validate:"omitempty,gte=0"`
	IsActive        *bool   `json:"is_active"`
}

func NewPackageService(repo PackageStore) *PackageService {
	return &PackageService{repo: repo}
}

func (s *PackageService) List(ctx context.Context, activeOnly bool) ([]models.CreditPackage, error) {
	packages, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return packages, nil
	}
	active := make([]models.CreditPackage, 0, len(packages))
	for _, p := range packages {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *PackageService) Get(ctx context.Context, id int64) (*models.CreditPackage, error) {
	pkg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}
	return pkg, nil
}

func (s *PackageService) Create(ctx context.Context, input CreatePackageInput) (*models.CreditPackage, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.PriceMinorUnits <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	pkg := models.CreditPackage{
		Title:           input.Title,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		BalanceCredits:  input.BalanceCredits,
		FreeStandard:    input.FreeStandard,
		FreeHD:          input.FreeHD,
		IsActive:        true,
	}
	if input.IsActive != nil {
		pkg.IsActive = *input.IsActive
	}
	if pkg.Grant().IsZero() {
		return nil, fmt.Errorf("%w: package must grant credits or free generations", ErrInvalidInput)
	}
	return s.repo.Create(ctx, &pkg)
}

func (s *PackageService) Update(ctx context.Context, id int64, input UpdatePackageInput) (*models.CreditPackage, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Title != nil && *input.Title != "" {
		existing.Title = *input.Title
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.BalanceCredits != nil {
		existing.BalanceCredits = *input.BalanceCredits
	}
	if input.FreeStandard != nil {
		existing.FreeStandard = *input.FreeStandard
	}
	if input.FreeHD != nil {
		existing.FreeHD = *input.FreeHD
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	if existing.Grant().IsZero() {
		return nil, fmt.Errorf("%w: package must grant credits or free generations", ErrInvalidInput)
	}
	return s.repo.Update(ctx, existing)
}

func (s *PackageService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
