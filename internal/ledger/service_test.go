package ledger

import (
	"context"
	"sync"
	"testing"
)

func fund(t *testing.T, s *InMemory, id string, amount int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Open(ctx, id); err != nil {
		t.Fatalf("open %s: %v", id, err)
	}
	if amount > 0 {
		if _, err := s.Deposit(ctx, id, Asset{Token: "XLM", Amount: amount}); err != nil {
			t.Fatalf("deposit %s: %v", id, err)
		}
	}
}

func TestTransferSuccessAndBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	fund(t, s, "alice", 1000)
	fund(t, s, "bob", 0)

	_, err := s.Transfer(ctx, "alice", "bob", Asset{Token: "XLM", Amount: 600})
	if err != nil {
		t.Fatal(err)
	}
	ba, _ := s.GetBalance(ctx, "alice", "XLM")
	bb, _ := s.GetBalance(ctx, "bob", "XLM")

	if ba.Amount != 400 || bb.Amount != 600 {
		t.Fatalf("unexpected balances: a=%d b=%d", ba.Amount, bb.Amount)
	}
}

func TestInsufficientFunds(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	fund(t, s, "alice", 100)
	fund(t, s, "bob", 0)

	if _, err := s.Transfer(ctx, "alice", "bob", Asset{Token: "XLM", Amount: 200}); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestTransferUnknownAccount(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	fund(t, s, "alice", 100)

	if _, err := s.Transfer(ctx, "alice", "ghost", Asset{Token: "XLM", Amount: 50}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The failed transfer must leave the source untouched.
	ba, _ := s.GetBalance(ctx, "alice", "XLM")
	if ba.Amount != 100 {
		t.Fatalf("balance mutated by failed transfer: %d", ba.Amount)
	}
}

func TestBatchSpendsInOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	fund(t, s, "borrower", 50)
	fund(t, s, "vault", 0)
	fund(t, s, "lender", 0)

	// The second leg spends what the first leg put into the vault.
	legs := []Leg{
		{FromID: "borrower", ToID: "vault", Asset: Asset{Token: "XLM", Amount: 50}},
		{FromID: "vault", ToID: "lender", Asset: Asset{Token: "XLM", Amount: 35}},
	}
	txs, err := s.TransferBatch(ctx, legs)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[0].BatchID != txs[1].BatchID {
		t.Fatalf("legs of one batch must share a batch id: %#v", txs)
	}
	bv, _ := s.GetBalance(ctx, "vault", "XLM")
	bl, _ := s.GetBalance(ctx, "lender", "XLM")
	if bv.Amount != 15 || bl.Amount != 35 {
		t.Fatalf("unexpected balances: vault=%d lender=%d", bv.Amount, bl.Amount)
	}
}

func TestBatchAllOrNothing(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	fund(t, s, "borrower", 40)
	fund(t, s, "vault", 0)
	fund(t, s, "lender", 0)

	legs := []Leg{
		{FromID: "borrower", ToID: "vault", Asset: Asset{Token: "XLM", Amount: 40}},
		{FromID: "vault", ToID: "lender", Asset: Asset{Token: "XLM", Amount: 100}},
	}
	if _, err := s.TransferBatch(ctx, legs); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// First leg must not have been committed.
	bb, _ := s.GetBalance(ctx, "borrower", "XLM")
	bv, _ := s.GetBalance(ctx, "vault", "XLM")
	if bb.Amount != 40 || bv.Amount != 0 {
		t.Fatalf("partial commit observed: borrower=%d vault=%d", bb.Amount, bv.Amount)
	}
	if txs, _, _ := s.ListTransfers(ctx, 10, 0); len(txs) != 0 {
		t.Fatalf("failed batch journaled %d transfers", len(txs))
	}
}

func TestConcurrentTransfersConservation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	fund(t, s, "alice", 10000)
	fund(t, s, "bob", 0)

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Transfer(ctx, "alice", "bob", Asset{Token: "XLM", Amount: 100})
		}()
	}
	wg.Wait()

	ba, _ := s.GetBalance(ctx, "alice", "XLM")
	bb, _ := s.GetBalance(ctx, "bob", "XLM")
	if ba.Amount+bb.Amount != 10000 {
		t.Fatalf("conservation violated: a+b=%d", ba.Amount+bb.Amount)
	}
}
