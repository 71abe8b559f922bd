package ledger

import (
	"errors"
	"time"

	"github.com/mertdlkr/x-rent/internal/ids"
)

// Asset is a quantity of one fungible token type, in minor units. No floats.
type Asset struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

func (a Asset) IsPositive() bool { return a.Amount > 0 }
func (a Asset) IsZero() bool     { return a.Amount == 0 }

// Account holds per-token balances for one identity. The platform vault is an
// ordinary account owned by no user.
type Account struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Balances  map[string]int64 `json:"balances"` // token -> minor units
}

// Leg is one directed movement inside an atomic batch.
type Leg struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Asset  Asset  `json:"asset"`
}

// Transfer is the journal record of one executed leg.
type Transfer struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	CreatedAt time.Time `json:"created_at"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Token     string    `json:"token"`
	Amount    int64     `json:"amount"` // minor units
	Sequence  uint64    `json:"sequence"`
}

var (
	ErrNotFound          = errors.New("ledger: account not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAmount     = errors.New("ledger: invalid amount (must be > 0)")
	ErrInvalidToken      = errors.New("ledger: invalid token")
	ErrEmptyBatch        = errors.New("ledger: empty batch")
)

func newID() string {
	return ids.New()
}
