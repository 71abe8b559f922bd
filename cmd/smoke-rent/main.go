package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mertdlkr/x-rent/internal/ledger"
	"github.com/mertdlkr/x-rent/internal/rental"
)

// Runs one full rental lifecycle in-process and checks the escrow arithmetic.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw := ledger.NewInMemory()
	engine, err := rental.NewEngine(ctx, rental.NewMemoryStore(), gw)
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	fund := func(id string, amount int64) {
		if _, err := gw.Open(ctx, id); err != nil {
			log.Fatalf("open %s: %v", id, err)
		}
		if _, err := gw.Deposit(ctx, id, ledger.Asset{Token: "XLM", Amount: amount}); err != nil {
			log.Fatalf("fund %s: %v", id, err)
		}
	}
	fund("acct-lender", 1_000)
	fund("acct-borrower", 1_000)

	if err := engine.InitializePlatform(ctx, "acct-admin"); err != nil {
		log.Fatalf("init platform: %v", err)
	}

	listingID, err := engine.CreateListing(ctx, "acct-lender", "XLM", 100, 500, 1, 30, 1_500)
	if err != nil {
		log.Fatalf("create listing: %v", err)
	}

	rentalID, err := engine.RentTokens(ctx, "acct-borrower", listingID, 7)
	if err != nil {
		log.Fatalf("rent: %v", err)
	}

	agreement, err := engine.GetRental(ctx, rentalID)
	if err != nil {
		log.Fatalf("get rental: %v", err)
	}
	// 100 tokens at 500 bp/day for 7 days: fee 35, platform cut 0, collateral 15.
	if agreement.RentalFee != 35 || agreement.Collateral != 15 {
		log.Fatalf("unexpected terms: fee=%d collateral=%d", agreement.RentalFee, agreement.Collateral)
	}

	if err := engine.ReturnTokens(ctx, "acct-borrower", rentalID); err != nil {
		log.Fatalf("return: %v", err)
	}

	balance := func(id string) int64 {
		a, err := gw.GetBalance(ctx, id, "XLM")
		if err != nil {
			log.Fatalf("balance %s: %v", id, err)
		}
		return a.Amount
	}
	lender, borrower, vault := balance("acct-lender"), balance("acct-borrower"), balance(engine.VaultAccount())

	if lender+borrower+vault != 2_000 {
		log.Fatalf("conservation failed: %d + %d + %d", lender, borrower, vault)
	}
	if lender != 1_035 || borrower != 965 {
		log.Fatalf("unexpected balances: lender=%d borrower=%d vault=%d", lender, borrower, vault)
	}

	fmt.Printf("✅ rental smoke test passed: listing=%d rental=%d\n", listingID, rentalID)
}
