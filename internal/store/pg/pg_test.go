package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mertdlkr/x-rent/internal/ledger"
	"github.com/mertdlkr/x-rent/internal/rental"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestGetConfigMissing(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("select admin, platform_fee_rate").WillReturnError(sql.ErrNoRows)

	_, ok, err := s.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if ok {
		t.Fatalf("expected no config before initialization")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetConfigRoundTrip(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("select admin, platform_fee_rate").WillReturnRows(
		sqlmock.NewRows([]string{"admin", "platform_fee_rate", "min_collateral_rate", "max_rental_duration"}).
			AddRow("acct-admin", 250, 1000, 365))

	cfg, ok, err := s.GetConfig(context.Background())
	if err != nil || !ok {
		t.Fatalf("GetConfig: ok=%v err=%v", ok, err)
	}
	want := rental.PlatformConfig{Admin: "acct-admin", PlatformFeeRate: 250, MinCollateralRate: 1000, MaxRentalDuration: 365}
	if cfg != want {
		t.Fatalf("config mismatch: got %+v want %+v", cfg, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCountersDefaultToOne(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("select value from counters").WithArgs("listing").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select value from counters").WithArgs("rental").WillReturnError(sql.ErrNoRows)

	if id, err := s.NextListingID(context.Background()); err != nil || id != 1 {
		t.Fatalf("NextListingID: id=%d err=%v", id, err)
	}
	if id, err := s.NextRentalID(context.Background()); err != nil || id != 1 {
		t.Fatalf("NextRentalID: id=%d err=%v", id, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCommitsAllRecordChanges(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into listings").
		WithArgs(int64(1), "acct-lender", "XLM", int64(100), int64(500), int64(1), int64(30), int64(1500), true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_listings").
		WithArgs("acct-lender", int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into counters").
		WithArgs("listing").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Apply(context.Background(), rental.Mutation{
		PutListing: &rental.Listing{
			ID: 1, Lender: "acct-lender", Token: "XLM", Amount: 100,
			RentalRate: 500, MinDuration: 1, MaxDuration: 30, CollateralRate: 1500, Available: true,
		},
		IndexListing:  &rental.IndexEntry{Identity: "acct-lender", ID: 1},
		BumpListingID: true,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	s, mock := newMock(t)

	boom := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec("insert into listings").WillReturnError(boom)
	mock.ExpectRollback()

	err := s.Apply(context.Background(), rental.Mutation{
		PutListing:    &rental.Listing{ID: 1},
		BumpListingID: true,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransferBatchSingleLeg(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").WithArgs("acct-a").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from accounts").WithArgs("acct-b").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("insert into balances").WithArgs("acct-b", "XLM").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select coalesce").WithArgs("acct-a", "XLM").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(80))
	mock.ExpectExec("update balances set amount = amount -").
		WithArgs("acct-a", "XLM", int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update balances set amount = amount \+`).
		WithArgs("acct-b", "XLM", int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into transfers").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acct-a", "acct-b", "XLM", int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(7))
	mock.ExpectCommit()

	txs, err := s.TransferBatch(context.Background(), []ledger.Leg{
		{FromID: "acct-a", ToID: "acct-b", Asset: ledger.Asset{Token: "XLM", Amount: 50}},
	})
	if err != nil {
		t.Fatalf("TransferBatch: %v", err)
	}
	if len(txs) != 1 || txs[0].Sequence != 7 || txs[0].Amount != 50 {
		t.Fatalf("unexpected transfer: %+v", txs)
	}
	if time.Since(txs[0].CreatedAt) > time.Minute {
		t.Fatalf("stale created_at: %v", txs[0].CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransferBatchInsufficientFunds(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").WithArgs("acct-a").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from accounts").WithArgs("acct-b").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("insert into balances").WithArgs("acct-b", "XLM").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select coalesce").WithArgs("acct-a", "XLM").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(10))
	mock.ExpectRollback()

	_, err := s.TransferBatch(context.Background(), []ledger.Leg{
		{FromID: "acct-a", ToID: "acct-b", Asset: ledger.Asset{Token: "XLM", Amount: 50}},
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransferBatchRejectsBadInput(t *testing.T) {
	s, _ := newMock(t)

	if _, err := s.TransferBatch(context.Background(), nil); !errors.Is(err, ledger.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	legs := []ledger.Leg{{FromID: "a", ToID: "b", Asset: ledger.Asset{Token: "XLM", Amount: 0}}}
	if _, err := s.TransferBatch(context.Background(), legs); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyWithTransfersIsOneTransaction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").WithArgs("acct-lender").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from accounts").WithArgs("xrent-vault").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("insert into balances").WithArgs("xrent-vault", "XLM").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select coalesce").WithArgs("acct-lender", "XLM").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(500))
	mock.ExpectExec("update balances set amount = amount -").
		WithArgs("acct-lender", "XLM", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update balances set amount = amount \+`).
		WithArgs("xrent-vault", "XLM", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into transfers").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acct-lender", "xrent-vault", "XLM", int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(3))
	mock.ExpectExec("insert into listings").
		WithArgs(int64(1), "acct-lender", "XLM", int64(100), int64(500), int64(1), int64(30), int64(1500), true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_listings").
		WithArgs("acct-lender", int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into counters").
		WithArgs("listing").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	legs := []ledger.Leg{
		{FromID: "acct-lender", ToID: "xrent-vault", Asset: ledger.Asset{Token: "XLM", Amount: 100}},
	}
	err := s.ApplyWithTransfers(context.Background(), legs, rental.Mutation{
		PutListing: &rental.Listing{
			ID: 1, Lender: "acct-lender", Token: "XLM", Amount: 100,
			RentalRate: 500, MinDuration: 1, MaxDuration: 30, CollateralRate: 1500, Available: true,
		},
		IndexListing:  &rental.IndexEntry{Identity: "acct-lender", ID: 1},
		BumpListingID: true,
	})
	if err != nil {
		t.Fatalf("ApplyWithTransfers: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyWithTransfersRollsBackBothHalves(t *testing.T) {
	s, mock := newMock(t)

	// The legs land, then the record write fails: the whole transaction
	// rolls back so the escrow never shows up without its listing.
	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").WithArgs("acct-lender").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select 1 from accounts").WithArgs("xrent-vault").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("insert into balances").WithArgs("xrent-vault", "XLM").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select coalesce").WithArgs("acct-lender", "XLM").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(500))
	mock.ExpectExec("update balances set amount = amount -").
		WithArgs("acct-lender", "XLM", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update balances set amount = amount \+`).
		WithArgs("xrent-vault", "XLM", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into transfers").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "acct-lender", "xrent-vault", "XLM", int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"sequence"}).AddRow(3))
	mock.ExpectExec("insert into listings").WillReturnError(boom)
	mock.ExpectRollback()

	legs := []ledger.Leg{
		{FromID: "acct-lender", ToID: "xrent-vault", Asset: ledger.Asset{Token: "XLM", Amount: 100}},
	}
	err := s.ApplyWithTransfers(context.Background(), legs, rental.Mutation{
		PutListing:    &rental.Listing{ID: 1, Lender: "acct-lender", Token: "XLM", Amount: 100, Available: true},
		BumpListingID: true,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyWithTransfersNoLegsIsPlainApply(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into counters").
		WithArgs("rental").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.ApplyWithTransfers(context.Background(), nil, rental.Mutation{BumpRentalID: true}); err != nil {
		t.Fatalf("ApplyWithTransfers: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
