package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mertdlkr/x-rent/internal/ledger"
	"github.com/mertdlkr/x-rent/internal/rental"
)

func (s *Store) GetConfig(ctx context.Context) (rental.PlatformConfig, bool, error) {
	var cfg rental.PlatformConfig
	err := s.db.QueryRowContext(ctx, `
		select admin, platform_fee_rate, min_collateral_rate, max_rental_duration
		from platform_config where singleton=1
	`).Scan(&cfg.Admin, &cfg.PlatformFeeRate, &cfg.MinCollateralRate, &cfg.MaxRentalDuration)
	if errors.Is(err, sql.ErrNoRows) {
		return rental.PlatformConfig{}, false, nil
	}
	if err != nil {
		return rental.PlatformConfig{}, false, err
	}
	return cfg, true, nil
}

func (s *Store) GetListing(ctx context.Context, id uint64) (rental.Listing, bool, error) {
	var l rental.Listing
	err := s.db.QueryRowContext(ctx, `
		select id, lender, token, amount, rental_rate, min_duration, max_duration, collateral_rate, available
		from listings where id=$1
	`, int64(id)).Scan(&l.ID, &l.Lender, &l.Token, &l.Amount, &l.RentalRate, &l.MinDuration, &l.MaxDuration, &l.CollateralRate, &l.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return rental.Listing{}, false, nil
	}
	if err != nil {
		return rental.Listing{}, false, err
	}
	return l, true, nil
}

func (s *Store) GetRental(ctx context.Context, id uint64) (rental.Rental, bool, error) {
	var r rental.Rental
	err := s.db.QueryRowContext(ctx, `
		select id, lender, borrower, token, amount, collateral, rental_fee, start_time, end_time, active, completed
		from rentals where id=$1
	`, int64(id)).Scan(&r.ID, &r.Lender, &r.Borrower, &r.Token, &r.Amount, &r.Collateral, &r.RentalFee, &r.StartTime, &r.EndTime, &r.Active, &r.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return rental.Rental{}, false, nil
	}
	if err != nil {
		return rental.Rental{}, false, err
	}
	return r, true, nil
}

func (s *Store) UserListings(ctx context.Context, identity string) ([]uint64, error) {
	return s.userIndex(ctx, `select listing_id from user_listings where identity=$1 order by position asc`, identity)
}

func (s *Store) UserRentals(ctx context.Context, identity string) ([]uint64, error) {
	return s.userIndex(ctx, `select rental_id from user_rentals where identity=$1 order by position asc`, identity)
}

func (s *Store) userIndex(ctx context.Context, query, identity string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (s *Store) NextListingID(ctx context.Context) (uint64, error) {
	return s.counter(ctx, "listing")
}

func (s *Store) NextRentalID(ctx context.Context) (uint64, error) {
	return s.counter(ctx, "rental")
}

func (s *Store) counter(ctx context.Context, name string) (uint64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `select value from counters where name=$1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// Apply lands the whole mutation in one transaction so that a state machine
// step never leaves half its record changes behind.
func (s *Store) Apply(ctx context.Context, m rental.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyMutation(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyWithTransfers lands the gateway legs and the record mutation in one
// serializable transaction. Either the value moves and the records change,
// or neither happens; a failure at any point rolls back both.
func (s *Store) ApplyWithTransfers(ctx context.Context, legs []ledger.Leg, m rental.Mutation) error {
	if len(legs) == 0 {
		return s.Apply(ctx, m)
	}
	if err := validateLegs(legs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := applyLegs(ctx, tx, legs); err != nil {
		return err
	}
	if err := applyMutation(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func applyMutation(ctx context.Context, tx *sql.Tx, m rental.Mutation) error {
	if m.Config != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into platform_config(singleton, admin, platform_fee_rate, min_collateral_rate, max_rental_duration)
			values (1,$1,$2,$3,$4)
			on conflict (singleton) do update set
				admin=excluded.admin,
				platform_fee_rate=excluded.platform_fee_rate,
				min_collateral_rate=excluded.min_collateral_rate,
				max_rental_duration=excluded.max_rental_duration
		`, m.Config.Admin, m.Config.PlatformFeeRate, m.Config.MinCollateralRate, m.Config.MaxRentalDuration); err != nil {
			return err
		}
	}
	if m.ResetCounters {
		if _, err := tx.ExecContext(ctx, `
			insert into counters(name, value) values ('listing',1),('rental',1)
			on conflict (name) do update set value=excluded.value
		`); err != nil {
			return err
		}
	}
	if m.PutListing != nil {
		l := m.PutListing
		if _, err := tx.ExecContext(ctx, `
			insert into listings(id, lender, token, amount, rental_rate, min_duration, max_duration, collateral_rate, available)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			on conflict (id) do update set available=excluded.available
		`, int64(l.ID), l.Lender, l.Token, l.Amount, l.RentalRate, int64(l.MinDuration), int64(l.MaxDuration), l.CollateralRate, l.Available); err != nil {
			return err
		}
	}
	if m.PutRental != nil {
		r := m.PutRental
		if _, err := tx.ExecContext(ctx, `
			insert into rentals(id, lender, borrower, token, amount, collateral, rental_fee, start_time, end_time, active, completed)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			on conflict (id) do update set active=excluded.active, completed=excluded.completed
		`, int64(r.ID), r.Lender, r.Borrower, r.Token, r.Amount, r.Collateral, r.RentalFee, r.StartTime, r.EndTime, r.Active, r.Completed); err != nil {
			return err
		}
	}
	if m.IndexListing != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into user_listings(identity, listing_id) values ($1,$2)
		`, m.IndexListing.Identity, int64(m.IndexListing.ID)); err != nil {
			return err
		}
	}
	if m.IndexRental != nil {
		if _, err := tx.ExecContext(ctx, `
			insert into user_rentals(identity, rental_id) values ($1,$2)
		`, m.IndexRental.Identity, int64(m.IndexRental.ID)); err != nil {
			return err
		}
	}
	if m.BumpListingID {
		if err := bumpCounter(ctx, tx, "listing"); err != nil {
			return err
		}
	}
	if m.BumpRentalID {
		if err := bumpCounter(ctx, tx, "rental"); err != nil {
			return err
		}
	}
	return nil
}

func bumpCounter(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `
		insert into counters(name, value) values ($1, 2)
		on conflict (name) do update set value = counters.value + 1
	`, name)
	return err
}
