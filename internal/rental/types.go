package rental

import (
	"errors"
	"time"
)

// All percentage-like parameters are expressed in basis points (1/10000).
const (
	basisPoints = 10_000

	// latePenaltyRate is the fixed share of the collateral forfeited to the
	// lender on a late voluntary return. Not configurable.
	latePenaltyRate = 1_000

	defaultPlatformFeeRate   = 250   // 2.5%
	defaultMinCollateralRate = 1_000 // 10%
	defaultMaxRentalDuration = 365   // days
)

// PlatformConfig is the singleton set of platform parameters, written exactly
// once at initialization and never mutated afterwards.
type PlatformConfig struct {
	Admin             string `json:"admin"`
	PlatformFeeRate   int64  `json:"platform_fee_rate"`   // basis points
	MinCollateralRate int64  `json:"min_collateral_rate"` // basis points
	MaxRentalDuration uint64 `json:"max_rental_duration"` // days
}

// Listing is an open offer to rent out a fixed quantity of one token type.
// Availability flips exactly once, from true to false, on rent or cancel.
type Listing struct {
	ID             uint64 `json:"listing_id"`
	Lender         string `json:"lender"`
	Token          string `json:"token"`
	Amount         int64  `json:"amount"`
	RentalRate     int64  `json:"rental_rate"`     // fee per day, basis points
	MinDuration    uint64 `json:"min_duration"`    // days
	MaxDuration    uint64 `json:"max_duration"`    // days
	CollateralRate int64  `json:"collateral_rate"` // basis points
	Available      bool   `json:"is_available"`
}

// Rental is one borrowing agreement derived from a listing. After resolution
// exactly one of Active/Completed is true, and a resolved rental can never be
// resolved again.
type Rental struct {
	ID         uint64    `json:"rental_id"`
	Lender     string    `json:"lender"`
	Borrower   string    `json:"borrower"`
	Token      string    `json:"token"`
	Amount     int64     `json:"amount"`
	Collateral int64     `json:"collateral_amount"`
	RentalFee  int64     `json:"rental_fee"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Active     bool      `json:"is_active"`
	Completed  bool      `json:"is_completed"`
}

var (
	ErrNotInitialized         = errors.New("rental: platform not initialized")
	ErrAlreadyInitialized     = errors.New("rental: platform already initialized")
	ErrUnauthorizedAccess     = errors.New("rental: unauthorized access")
	ErrInvalidAmount          = errors.New("rental: invalid amount (must be > 0)")
	ErrInsufficientBalance    = errors.New("rental: insufficient balance")
	ErrRentalNotFound         = errors.New("rental: not found")
	ErrRentalExpired          = errors.New("rental: already resolved")
	ErrRentalActive           = errors.New("rental: still active")
	ErrInvalidDuration        = errors.New("rental: invalid duration")
	ErrInsufficientCollateral = errors.New("rental: insufficient collateral")
	ErrUnauthorizedReturn     = errors.New("rental: unauthorized return")
)
