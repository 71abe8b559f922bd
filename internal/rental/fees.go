package rental

// Quote is the money side of one prospective rental, all amounts in minor
// units of the listing's token.
type Quote struct {
	RentalFee   int64 `json:"rental_fee"`   // owed to the lender
	PlatformFee int64 `json:"platform_fee"` // retained by the platform vault
	Collateral  int64 `json:"collateral"`   // escrowed from the borrower
}

// TotalCharged is what the borrower pays up front: both fees plus collateral.
func (q Quote) TotalCharged() int64 {
	return q.RentalFee + q.PlatformFee + q.Collateral
}

// ComputeQuote prices a rental. Truncating integer division throughout; the
// rounding policy is part of the wire-compatible behaviour and must not be
// changed to round-to-nearest. Inputs whose products do not fit in int64
// are rejected with ErrInvalidAmount rather than wrapping negative.
func ComputeQuote(amount, rentalRate int64, durationDays uint64, platformFeeRate, collateralRate int64) (Quote, error) {
	if amount < 0 || rentalRate < 0 || platformFeeRate < 0 || collateralRate < 0 {
		return Quote{}, ErrInvalidAmount
	}
	feeBasis, ok := mul64(amount, rentalRate)
	if !ok {
		return Quote{}, ErrInvalidAmount
	}
	feeBasis, ok = mul64(feeBasis, int64(durationDays))
	if !ok {
		return Quote{}, ErrInvalidAmount
	}
	rentalFee := feeBasis / basisPoints

	platformBasis, ok := mul64(rentalFee, platformFeeRate)
	if !ok {
		return Quote{}, ErrInvalidAmount
	}
	platformFee := platformBasis / basisPoints

	collateralBasis, ok := mul64(amount, collateralRate)
	if !ok {
		return Quote{}, ErrInvalidAmount
	}
	collateral := collateralBasis / basisPoints

	// The up-front charge must also fit.
	total, ok := add64(rentalFee, platformFee)
	if ok {
		_, ok = add64(total, collateral)
	}
	if !ok {
		return Quote{}, ErrInvalidAmount
	}

	return Quote{
		RentalFee:   rentalFee,
		PlatformFee: platformFee,
		Collateral:  collateral,
	}, nil
}

// add64 adds two non-negative int64 values, reporting whether the sum fits.
func add64(a, b int64) (int64, bool) {
	s := a + b
	return s, s >= 0
}

// mul64 multiplies two non-negative int64 values, reporting whether the
// product fits.
func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// SplitCollateral divides an escrowed collateral for a late return: a fixed
// 10% penalty to the lender, the remainder refunded to the borrower. Penalty
// and refund always sum exactly to the input.
func SplitCollateral(collateral int64) (refund, penalty int64) {
	penalty = collateral * latePenaltyRate / basisPoints
	refund = collateral - penalty
	return refund, penalty
}
