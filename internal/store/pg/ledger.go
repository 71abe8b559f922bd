package pg

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/mertdlkr/x-rent/internal/ids"
	"github.com/mertdlkr/x-rent/internal/ledger"
)

func (s *Store) Open(ctx context.Context, id string) (ledger.Account, error) {
	if id == "" {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into accounts(id, created_at) values($1, now())
		on conflict (id) do nothing
	`, id); err != nil {
		return ledger.Account{}, err
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) Deposit(ctx context.Context, id string, asset ledger.Asset) (ledger.Account, error) {
	if asset.Token == "" {
		return ledger.Account{}, ledger.ErrInvalidToken
	}
	if !asset.IsPositive() {
		return ledger.Account{}, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from accounts where id=$1 for update`, id).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ledger.ErrNotFound
		}
		return ledger.Account{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into balances(account_id, token, amount)
		values ($1,$2,$3)
		on conflict (account_id, token) do update
		set amount = balances.amount + excluded.amount
	`, id, asset.Token, asset.Amount); err != nil {
		return ledger.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Account{}, err
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `select created_at from accounts where id=$1`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}

	rows, err := s.db.QueryContext(ctx, `select token, amount from balances where account_id=$1`, id)
	if err != nil {
		return ledger.Account{}, err
	}
	defer rows.Close()

	bals := map[string]int64{}
	for rows.Next() {
		var t string
		var a int64
		if err := rows.Scan(&t, &a); err != nil {
			return ledger.Account{}, err
		}
		bals[t] = a
	}
	return ledger.Account{ID: id, CreatedAt: created, Balances: bals}, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, id, token string) (ledger.Asset, error) {
	var amt int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(b.amount,0)
		from accounts a
		left join balances b on b.account_id=a.id and b.token=$2
		where a.id=$1
	`, id, token).Scan(&amt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Asset{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Asset{}, err
	}
	return ledger.Asset{Token: token, Amount: amt}, nil
}

func (s *Store) Transfer(ctx context.Context, fromID, toID string, asset ledger.Asset) (ledger.Transfer, error) {
	txs, err := s.TransferBatch(ctx, []ledger.Leg{{FromID: fromID, ToID: toID, Asset: asset}})
	if err != nil {
		return ledger.Transfer{}, err
	}
	return txs[0], nil
}

// TransferBatch executes all legs in one serializable transaction, applying
// them in order so a leg may spend value received by an earlier leg. Any
// failure rolls the whole batch back.
func (s *Store) TransferBatch(ctx context.Context, legs []ledger.Leg) ([]ledger.Transfer, error) {
	if err := validateLegs(legs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := applyLegs(ctx, tx, legs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func validateLegs(legs []ledger.Leg) error {
	if len(legs) == 0 {
		return ledger.ErrEmptyBatch
	}
	for _, leg := range legs {
		if leg.Asset.Token == "" {
			return ledger.ErrInvalidToken
		}
		if !leg.Asset.IsPositive() {
			return ledger.ErrInvalidAmount
		}
	}
	return nil
}

// applyLegs moves value inside an open transaction: locks every involved
// account in stable order to avoid deadlocks, then applies the legs
// sequentially with per-leg balance checks.
func applyLegs(ctx context.Context, tx *sql.Tx, legs []ledger.Leg) ([]ledger.Transfer, error) {
	seen := map[string]bool{}
	var accounts []string
	for _, leg := range legs {
		for _, id := range []string{leg.FromID, leg.ToID} {
			if !seen[id] {
				seen[id] = true
				accounts = append(accounts, id)
			}
		}
	}
	sort.Strings(accounts)
	for _, acc := range accounts {
		var dummy int
		if err := tx.QueryRowContext(ctx, `select 1 from accounts where id=$1 for update`, acc).Scan(&dummy); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ledger.ErrNotFound
			}
			return nil, err
		}
	}

	batchID := ids.New()
	now := time.Now().UTC()
	out := make([]ledger.Transfer, 0, len(legs))
	for _, leg := range legs {
		if _, err := tx.ExecContext(ctx, `
			insert into balances(account_id, token, amount)
			values ($1,$2,0) on conflict do nothing
		`, leg.ToID, leg.Asset.Token); err != nil {
			return nil, err
		}
		var fromBal int64
		err := tx.QueryRowContext(ctx, `
			select coalesce(amount,0) from balances
			where account_id=$1 and token=$2 for update
		`, leg.FromID, leg.Asset.Token).Scan(&fromBal)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrInsufficientFunds
		}
		if err != nil {
			return nil, err
		}
		if fromBal < leg.Asset.Amount {
			return nil, ledger.ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, `
			update balances set amount = amount - $3
			where account_id=$1 and token=$2
		`, leg.FromID, leg.Asset.Token, leg.Asset.Amount); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			update balances set amount = amount + $3
			where account_id=$1 and token=$2
		`, leg.ToID, leg.Asset.Token, leg.Asset.Amount); err != nil {
			return nil, err
		}

		tid := ids.New()
		var seq uint64
		if err := tx.QueryRowContext(ctx, `
			insert into transfers(id, batch_id, from_account_id, to_account_id, token, amount)
			values ($1,$2,$3,$4,$5,$6) returning sequence
		`, tid, batchID, leg.FromID, leg.ToID, leg.Asset.Token, leg.Asset.Amount).Scan(&seq); err != nil {
			return nil, err
		}
		out = append(out, ledger.Transfer{
			ID:        tid,
			BatchID:   batchID,
			CreatedAt: now,
			FromID:    leg.FromID,
			ToID:      leg.ToID,
			Token:     leg.Asset.Token,
			Amount:    leg.Asset.Amount,
			Sequence:  seq,
		})
	}
	return out, nil
}

func (s *Store) ListTransfers(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transfer, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, batch_id, created_at, from_account_id, to_account_id, token, amount, sequence
		from transfers
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Transfer
	var last uint64
	for rows.Next() {
		var tx ledger.Transfer
		if err := rows.Scan(&tx.ID, &tx.BatchID, &tx.CreatedAt, &tx.FromID, &tx.ToID, &tx.Token, &tx.Amount, &tx.Sequence); err != nil {
			return nil, 0, err
		}
		res = append(res, tx)
		last = tx.Sequence
	}
	return res, last, rows.Err()
}
