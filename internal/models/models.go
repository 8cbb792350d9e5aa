package models

import "time"

// OperationKind selects the pricing policy and provider model of a generation.
type OperationKind string

const (
	// KindStandard is free while its counter lasts and costs nothing afterwards.
	KindStandard OperationKind = "standard"
	// KindHD is free while its counter lasts and then costs a fixed price.
	KindHD OperationKind = "hd"
	// KindPro always costs a fixed price and has no free counter.
	KindPro OperationKind = "pro"
)

func (k OperationKind) Valid() bool {
	switch k {
	case KindStandard, KindHD, KindPro:
		return true
	}
	return false
}

// HasFreeCounter reports whether the kind draws from a free-use allowance.
func (k OperationKind) HasFreeCounter() bool {
	return k == KindStandard || k == KindHD
}

// ModelVariant picks the provider endpoint used for a kind.
func (k OperationKind) ModelVariant() ModelVariant {
	if k == KindPro {
		return ModelNanoBanana
	}
	return ModelSeedream
}

type ModelVariant string

const (
	ModelSeedream   ModelVariant = "seedream"
	ModelNanoBanana ModelVariant = "nano-banana"
)

// GrantSource records which branch of the access decision paid for an operation.
type GrantSource string

const (
	SourceUnlimited GrantSource = "unlimited"
	SourceFree      GrantSource = "free"
	SourcePaid      GrantSource = "paid"
	SourceZeroCost  GrantSource = "zero_cost"
)

type Account struct {
	UserID       int64     `db:"user_id" json:"user_id"`
	Balance      int       `db:"balance" json:"balance"`
	FreeStandard int       `db:"free_standard" json:"free_standard"`
	FreeHD       int       `db:"free_hd" json:"free_hd"`
	IsUnlimited  bool      `db:"is_unlimited" json:"is_unlimited"`
	TotalSpent   int       `db:"total_spent" json:"total_spent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FreeRemaining returns the free-use counter for kind, zero for kinds without one.
func (a *Account) FreeRemaining(kind OperationKind) int {
	switch kind {
	case KindStandard:
		return a.FreeStandard
	case KindHD:
		return a.FreeHD
	default:
		return 0
	}
}

// Decision is the per-request outcome of an access check. Only its side effects persist.
type Decision struct {
	Granted          bool          `json:"granted"`
	Cost             int           `json:"cost"`
	RemainingBalance int           `json:"remaining_balance"`
	Source           GrantSource   `json:"source"`
	Kind             OperationKind `json:"operation_kind"`
}

// UsageEntry is one row of the usage log, written for every grant.
type UsageEntry struct {
	UserID      int64
	Kind        OperationKind
	Environment string
	Cost        int
	Source      GrantSource
}

// Grant is a set of increments applied to an account by a purchase, refund or admin action.
type Grant struct {
	Balance      int `json:"balance"`
	FreeStandard int `json:"free_standard"`
	FreeHD       int `json:"free_hd"`
}

func (g Grant) IsZero() bool {
	return g.Balance == 0 && g.FreeStandard == 0 && g.FreeHD == 0
}

type TxType string

const (
	TxPurchase   TxType = "purchase"
	TxRefund     TxType = "refund"
	TxAdminGrant TxType = "admin_grant"
)

type GenerationStatus string

const (
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
	GenerationTimedOut  GenerationStatus = "timed_out"
)

type GenerationRecord struct {
	ID             string           `db:"id" json:"id"`
	UserID         int64            `db:"user_id" json:"user_id"`
	Kind           OperationKind    `db:"kind" json:"operation_kind"`
	Environment    string           `db:"environment" json:"environment"`
	Intensity      string           `db:"intensity" json:"intensity"`
	ModelVariant   ModelVariant     `db:"model_variant" json:"model_variant"`
	RequestID      string           `db:"request_id" json:"request_id"`
	Status         GenerationStatus `db:"status" json:"status"`
	Cost           int              `db:"cost" json:"cost"`
	AssetURL       *string          `db:"asset_url" json:"asset_url,omitempty"`
	FailureReason  string           `db:"failure_reason" json:"failure_reason,omitempty"`
	AssetExpiresAt *time.Time       `db:"asset_expires_at" json:"asset_expires_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

type PromptTemplate struct {
	ID           int64        `db:"id" json:"id"`
	ModelVariant ModelVariant `db:"model_variant" json:"model_variant"`
	Intensity    string       `db:"intensity" json:"intensity"`
	Environment  string       `db:"environment" json:"environment"`
	Template     string       `db:"template" json:"template"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// CreditPackage is a purchasable bundle; a verified payment credits exactly one package.
type CreditPackage struct {
	ID              int64     `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	Currency        string    `db:"currency" json:"currency"`
	PriceMinorUnits int       `db:"price_minor_units" json:"price_minor_units"`
	BalanceCredits  int       `db:"balance_credits" json:"balance_credits"`
	FreeStandard    int       `db:"free_standard" json:"free_standard"`
	FreeHD          int       `db:"free_hd" json:"free_hd"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

func (p *CreditPackage) Grant() Grant {
	return Grant{Balance: p.BalanceCredits, FreeStandard: p.FreeStandard, FreeHD: p.FreeHD}
}

type Payment struct {
	ID                int64     `db:"id"`
	UserID            int64     `db:"user_id"`
	PackageID         int64     `db:"package_id"`
	Provider          string    `db:"provider"`
	ProviderPaymentID string    `db:"provider_payment_id"`
	Currency          string    `db:"currency"`
	Amount            string    `db:"amount"`
	Status            string    `db:"status"`
	RawPayload        string    `db:"raw_payload"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}
