package ledger

import (
	"context"
	"sync"
	"time"
)

// Service is the value-transfer gateway. Every mutation is all-or-nothing:
// a batch either moves all of its legs or none of them.
type Service interface {
	Open(ctx context.Context, id string) (Account, error)
	Deposit(ctx context.Context, id string, asset Asset) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetBalance(ctx context.Context, id, token string) (Asset, error)
	Transfer(ctx context.Context, fromID, toID string, asset Asset) (Transfer, error)
	TransferBatch(ctx context.Context, legs []Leg) ([]Transfer, error)
	ListTransfers(ctx context.Context, limit int, afterSeq uint64) ([]Transfer, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	accts   map[string]*Account
	seq     uint64
	journal []Transfer
}

// NewInMemory creates a fresh gateway.
func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[string]*Account),
	}
}

// Open creates the account when absent and returns it either way.
func (s *InMemory) Open(ctx context.Context, id string) (Account, error) {
	if id == "" {
		return Account{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accts[id]
	if !ok {
		acc = &Account{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			Balances:  map[string]int64{},
		}
		s.accts[id] = acc
	}
	return copyAccount(acc), nil
}

// Deposit credits an existing account. Used to fund identities before they
// participate in listings and rentals.
func (s *InMemory) Deposit(ctx context.Context, id string, asset Asset) (Account, error) {
	if asset.Token == "" {
		return Account{}, ErrInvalidToken
	}
	if !asset.IsPositive() {
		return Account{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	acc.Balances[asset.Token] += asset.Amount
	return copyAccount(acc), nil
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return copyAccount(acc), nil
}

func (s *InMemory) GetBalance(ctx context.Context, id, token string) (Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Asset{}, ErrNotFound
	}
	return Asset{Token: token, Amount: acc.Balances[token]}, nil
}

func (s *InMemory) Transfer(ctx context.Context, fromID, toID string, asset Asset) (Transfer, error) {
	txs, err := s.TransferBatch(ctx, []Leg{{FromID: fromID, ToID: toID, Asset: asset}})
	if err != nil {
		return Transfer{}, err
	}
	return txs[0], nil
}

// TransferBatch executes the legs in order against a working copy of the
// balances, then commits. A leg may spend value received by an earlier leg of
// the same batch; if any leg cannot be honoured the whole batch is rejected
// and no balance changes.
func (s *InMemory) TransferBatch(ctx context.Context, legs []Leg) ([]Transfer, error) {
	if len(legs) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, leg := range legs {
		if leg.Asset.Token == "" {
			return nil, ErrInvalidToken
		}
		if !leg.Asset.IsPositive() {
			return nil, ErrInvalidAmount
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Dry run on scratch balances.
	scratch := make(map[string]map[string]int64)
	working := func(id string) (map[string]int64, bool) {
		if b, ok := scratch[id]; ok {
			return b, true
		}
		acc, ok := s.accts[id]
		if !ok {
			return nil, false
		}
		b := make(map[string]int64, len(acc.Balances))
		for k, v := range acc.Balances {
			b[k] = v
		}
		scratch[id] = b
		return b, true
	}
	for _, leg := range legs {
		from, ok := working(leg.FromID)
		if !ok {
			return nil, ErrNotFound
		}
		to, ok := working(leg.ToID)
		if !ok {
			return nil, ErrNotFound
		}
		if from[leg.Asset.Token] < leg.Asset.Amount {
			return nil, ErrInsufficientFunds
		}
		from[leg.Asset.Token] -= leg.Asset.Amount
		to[leg.Asset.Token] += leg.Asset.Amount
	}

	// Commit scratch balances and journal the legs.
	for id, balances := range scratch {
		s.accts[id].Balances = balances
	}
	batchID := newID()
	now := time.Now().UTC()
	out := make([]Transfer, 0, len(legs))
	for _, leg := range legs {
		s.seq++
		tx := Transfer{
			ID:        newID(),
			BatchID:   batchID,
			CreatedAt: now,
			FromID:    leg.FromID,
			ToID:      leg.ToID,
			Token:     leg.Asset.Token,
			Amount:    leg.Asset.Amount,
			Sequence:  s.seq,
		}
		s.journal = append(s.journal, tx)
		out = append(out, tx)
	}
	return out, nil
}

func (s *InMemory) ListTransfers(ctx context.Context, limit int, afterSeq uint64) ([]Transfer, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transfer
	var last uint64
	for _, tx := range s.journal {
		if tx.Sequence <= afterSeq {
			continue
		}
		res = append(res, tx)
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func copyAccount(acc *Account) Account {
	out := *acc
	out.Balances = make(map[string]int64, len(acc.Balances))
	for k, v := range acc.Balances {
		out.Balances[k] = v
	}
	return out
}
