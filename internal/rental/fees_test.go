package rental

import (
	"math"
	"testing"
)

func TestComputeQuoteTruncates(t *testing.T) {
	cases := []struct {
		name            string
		amount          int64
		rentalRate      int64
		duration        uint64
		platformFeeRate int64
		collateralRate  int64
		want            Quote
	}{
		{
			// The documented reference case: platform fee truncates to zero.
			name:   "seven day reference",
			amount: 100, rentalRate: 500, duration: 7,
			platformFeeRate: 250, collateralRate: 1500,
			want: Quote{RentalFee: 35, PlatformFee: 0, Collateral: 15},
		},
		{
			name:   "platform fee survives truncation",
			amount: 10_000, rentalRate: 500, duration: 30,
			platformFeeRate: 250, collateralRate: 1000,
			want: Quote{RentalFee: 15_000, PlatformFee: 375, Collateral: 1000},
		},
		{
			name:   "everything truncates to zero",
			amount: 1, rentalRate: 1, duration: 1,
			platformFeeRate: 250, collateralRate: 1000,
			want: Quote{RentalFee: 0, PlatformFee: 0, Collateral: 0},
		},
		{
			name:   "single day minimum",
			amount: 100, rentalRate: 10_000, duration: 1,
			platformFeeRate: 250, collateralRate: 1000,
			want: Quote{RentalFee: 100, PlatformFee: 2, Collateral: 10},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeQuote(tc.amount, tc.rentalRate, tc.duration, tc.platformFeeRate, tc.collateralRate)
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if got != tc.want {
				t.Fatalf("quote = %+v, want %+v", got, tc.want)
			}
			wantTotal := tc.want.RentalFee + tc.want.PlatformFee + tc.want.Collateral
			if got.TotalCharged() != wantTotal {
				t.Fatalf("TotalCharged = %d, want %d", got.TotalCharged(), wantTotal)
			}
		})
	}
}

func TestComputeQuoteRejectsOverflow(t *testing.T) {
	cases := []struct {
		name            string
		amount          int64
		rentalRate      int64
		duration        uint64
		platformFeeRate int64
		collateralRate  int64
	}{
		// amount * collateral_rate wraps negative in 64 bits.
		{"collateral product overflows", 4_000_000_000, 0, 1, 250, 40_000_000_000},
		// amount * rental_rate alone is fine; the duration factor wraps it.
		{"fee product overflows over duration", 4_000_000_000, 10_000_000, 365, 250, 1000},
		{"amount at int64 max", math.MaxInt64, 1, 1, 250, 1000},
		{"negative rate", 100, -500, 7, 250, 1500},
		{"negative collateral rate", 100, 500, 7, 250, -1},
		{"negative amount", -100, 500, 7, 250, 1500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := ComputeQuote(tc.amount, tc.rentalRate, tc.duration, tc.platformFeeRate, tc.collateralRate)
			if err != ErrInvalidAmount {
				t.Fatalf("expected ErrInvalidAmount, got quote %+v err %v", q, err)
			}
		})
	}
}

func TestComputeQuoteLargestRepresentableTerms(t *testing.T) {
	// Near the boundary but inside it: every product fits, nothing wraps.
	q, err := ComputeQuote(1_000_000_000_000, 10_000, 365, 250, 20_000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.RentalFee <= 0 || q.PlatformFee <= 0 || q.Collateral <= 0 {
		t.Fatalf("non-positive component in %+v", q)
	}
	if q.TotalCharged() <= 0 {
		t.Fatalf("total wrapped: %d", q.TotalCharged())
	}
}

func TestSplitCollateralSumsExactly(t *testing.T) {
	for _, collateral := range []int64{0, 1, 9, 10, 15, 99, 100, 1000, 12_345, 1_000_000_007} {
		refund, penalty := SplitCollateral(collateral)
		if refund+penalty != collateral {
			t.Fatalf("collateral %d: refund %d + penalty %d != %d", collateral, refund, penalty, collateral)
		}
		if penalty != collateral*1000/10_000 {
			t.Fatalf("collateral %d: penalty %d is not 10%%", collateral, penalty)
		}
		if refund < 0 || penalty < 0 {
			t.Fatalf("collateral %d: negative split %d/%d", collateral, refund, penalty)
		}
	}
}
