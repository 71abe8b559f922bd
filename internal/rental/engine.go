package rental

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mertdlkr/x-rent/internal/ledger"
	"github.com/mertdlkr/x-rent/internal/stream"
)

// DefaultVaultAccount is the reserved ledger account that holds escrowed
// value. It is owned by the platform itself, never by a user.
const DefaultVaultAccount = "xrent-vault"

// Engine drives the listing/rental state machine. Callers passed to its
// operations must already be verified by the transport boundary; the engine
// only checks that the caller matches the record it is acting on.
//
// Operations execute one at a time: the engine mutex supplies the total
// ordering the escrow accounting relies on. Every operation either commits
// all of its transfers and record changes or none of them.
type Engine struct {
	mu      sync.Mutex
	store   Store
	gateway ledger.Service
	events  *stream.Stream
	vaultID string
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEvents attaches a broker that receives one event per successful
// state-changing operation.
func WithEvents(s *stream.Stream) Option {
	return func(e *Engine) { e.events = s }
}

// WithVaultAccount overrides the custody account id.
func WithVaultAccount(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.vaultID = id
		}
	}
}

// NewEngine wires the state machine to its collaborators and opens the vault
// custody account on the gateway.
func NewEngine(ctx context.Context, store Store, gateway ledger.Service, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:   store,
		gateway: gateway,
		vaultID: DefaultVaultAccount,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := gateway.Open(ctx, e.vaultID); err != nil {
		return nil, fmt.Errorf("open vault account: %w", err)
	}
	return e, nil
}

// VaultAccount returns the custody account id.
func (e *Engine) VaultAccount() string { return e.vaultID }

// commit lands the gateway legs and the record mutation of one operation.
// When the store can do both in a single transaction (the Postgres store
// backs the ledger and the records on one pool) it goes through that path;
// otherwise the legs commit first and the mutation follows. The fallback is
// only sound for stores whose Apply cannot fail, like MemoryStore.
func (e *Engine) commit(ctx context.Context, legs []ledger.Leg, m Mutation) error {
	if as, ok := e.store.(AtomicStore); ok {
		if err := as.ApplyWithTransfers(ctx, legs, m); err != nil {
			return translateGateway(err)
		}
		return nil
	}
	if len(legs) > 0 {
		if _, err := e.gateway.TransferBatch(ctx, legs); err != nil {
			return translateGateway(err)
		}
	}
	return e.store.Apply(ctx, m)
}

// InitializePlatform writes the singleton config with the documented defaults
// and resets both id counters. Callable at most once per instance.
func (e *Engine) InitializePlatform(ctx context.Context, admin string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists, err := e.store.GetConfig(ctx); err != nil {
		return err
	} else if exists {
		return ErrAlreadyInitialized
	}

	cfg := PlatformConfig{
		Admin:             admin,
		PlatformFeeRate:   defaultPlatformFeeRate,
		MinCollateralRate: defaultMinCollateralRate,
		MaxRentalDuration: defaultMaxRentalDuration,
	}
	if err := e.store.Apply(ctx, Mutation{Config: &cfg, ResetCounters: true}); err != nil {
		return err
	}

	e.publish(stream.Event{Topic: stream.TopicPlatformInit, Admin: admin})
	return nil
}

// CreateListing escrows the lender's tokens into the vault and records the
// offer. Returns the new monotonic listing id.
func (e *Engine) CreateListing(ctx context.Context, lender, token string, amount, rentalRate int64, minDuration, maxDuration uint64, collateralRate int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	cfg, exists, err := e.store.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotInitialized
	}
	if collateralRate < cfg.MinCollateralRate {
		return 0, ErrInsufficientCollateral
	}
	if maxDuration > cfg.MaxRentalDuration {
		return 0, ErrInvalidDuration
	}
	// The worst-case quote for these terms must be representable, otherwise
	// a later rent_tokens would overflow the fee arithmetic. Rejecting here
	// keeps un-rentable listings out of the book entirely.
	if _, err := ComputeQuote(amount, rentalRate, maxDuration, cfg.PlatformFeeRate, collateralRate); err != nil {
		return 0, err
	}

	id, err := e.store.NextListingID(ctx)
	if err != nil {
		return 0, err
	}
	listing := Listing{
		ID:             id,
		Lender:         lender,
		Token:          token,
		Amount:         amount,
		RentalRate:     rentalRate,
		MinDuration:    minDuration,
		MaxDuration:    maxDuration,
		CollateralRate: collateralRate,
		Available:      true,
	}
	// Escrow and record commit together: if the lender cannot cover the
	// amount the operation fails with no id consumed and no record written.
	escrow := []ledger.Leg{{FromID: lender, ToID: e.vaultID, Asset: ledger.Asset{Token: token, Amount: amount}}}
	err = e.commit(ctx, escrow, Mutation{
		PutListing:    &listing,
		IndexListing:  &IndexEntry{Identity: lender, ID: id},
		BumpListingID: true,
	})
	if err != nil {
		return 0, err
	}

	e.publish(stream.Event{
		Topic:      stream.TopicListingCreated,
		ListingID:  id,
		Lender:     lender,
		Token:      token,
		Amount:     amount,
		RentalRate: rentalRate,
	})
	return id, nil
}

// RentTokens takes custody of a listed amount for a bounded window against a
// fee and collateral. The three escrow movements are submitted as one atomic
// batch: charge the borrower, pay the lender's fee, hand over the tokens.
// The platform fee stays in the vault; no operation forwards it anywhere.
func (e *Engine) RentTokens(ctx context.Context, borrower string, listingID uint64, durationDays uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listing, found, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrRentalNotFound
	}
	if !listing.Available {
		return 0, ErrRentalActive
	}
	if durationDays < listing.MinDuration || durationDays > listing.MaxDuration {
		return 0, ErrInvalidDuration
	}
	cfg, exists, err := e.store.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotInitialized
	}

	quote, err := ComputeQuote(listing.Amount, listing.RentalRate, durationDays, cfg.PlatformFeeRate, listing.CollateralRate)
	if err != nil {
		return 0, err
	}

	// Truncation can price a short rental at zero; zero legs are simply
	// omitted rather than sent to the gateway.
	var legs []ledger.Leg
	if quote.TotalCharged() > 0 {
		legs = append(legs, ledger.Leg{FromID: borrower, ToID: e.vaultID, Asset: ledger.Asset{Token: listing.Token, Amount: quote.TotalCharged()}})
	}
	if quote.RentalFee > 0 {
		legs = append(legs, ledger.Leg{FromID: e.vaultID, ToID: listing.Lender, Asset: ledger.Asset{Token: listing.Token, Amount: quote.RentalFee}})
	}
	legs = append(legs, ledger.Leg{FromID: e.vaultID, ToID: borrower, Asset: ledger.Asset{Token: listing.Token, Amount: listing.Amount}})

	id, err := e.store.NextRentalID(ctx)
	if err != nil {
		return 0, err
	}
	start := e.now().UTC()
	agreement := Rental{
		ID:         id,
		Lender:     listing.Lender,
		Borrower:   borrower,
		Token:      listing.Token,
		Amount:     listing.Amount,
		Collateral: quote.Collateral,
		RentalFee:  quote.RentalFee,
		StartTime:  start,
		EndTime:    start.Add(time.Duration(durationDays) * 24 * time.Hour),
		Active:     true,
		Completed:  false,
	}
	listing.Available = false
	err = e.commit(ctx, legs, Mutation{
		PutRental:    &agreement,
		PutListing:   &listing,
		IndexRental:  &IndexEntry{Identity: borrower, ID: id},
		BumpRentalID: true,
	})
	if err != nil {
		return 0, err
	}

	e.publish(stream.Event{
		Topic:    stream.TopicRentalStarted,
		RentalID: id,
		Borrower: borrower,
		Lender:   listing.Lender,
		Token:    listing.Token,
		Amount:   listing.Amount,
		Duration: durationDays,
	})
	return id, nil
}

// ReturnTokens resolves a rental on the borrower's initiative. On-time
// returns refund the whole collateral; late returns forfeit a fixed 10% of
// it to the lender.
func (e *Engine) ReturnTokens(ctx context.Context, borrower string, rentalID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, found, err := e.store.GetRental(ctx, rentalID)
	if err != nil {
		return err
	}
	if !found {
		return ErrRentalNotFound
	}
	if agreement.Borrower != borrower {
		return ErrUnauthorizedReturn
	}
	if !agreement.Active {
		return ErrRentalExpired
	}

	now := e.now().UTC()
	onTime := !now.After(agreement.EndTime)

	legs := []ledger.Leg{
		{FromID: borrower, ToID: agreement.Lender, Asset: ledger.Asset{Token: agreement.Token, Amount: agreement.Amount}},
	}
	if onTime {
		if agreement.Collateral > 0 {
			legs = append(legs, ledger.Leg{FromID: e.vaultID, ToID: borrower, Asset: ledger.Asset{Token: agreement.Token, Amount: agreement.Collateral}})
		}
	} else {
		refund, penalty := SplitCollateral(agreement.Collateral)
		if refund > 0 {
			legs = append(legs, ledger.Leg{FromID: e.vaultID, ToID: borrower, Asset: ledger.Asset{Token: agreement.Token, Amount: refund}})
		}
		if penalty > 0 {
			legs = append(legs, ledger.Leg{FromID: e.vaultID, ToID: agreement.Lender, Asset: ledger.Asset{Token: agreement.Token, Amount: penalty}})
		}
	}

	agreement.Active = false
	agreement.Completed = true
	if err := e.commit(ctx, legs, Mutation{PutRental: &agreement}); err != nil {
		return err
	}

	e.publish(stream.Event{
		Topic:    stream.TopicRentalReturned,
		RentalID: rentalID,
		Borrower: borrower,
		Lender:   agreement.Lender,
		OnTime:   &onTime,
	})
	return nil
}

// EmergencyReturn lets the lender force-recover principal and the entire
// collateral, but only strictly after expiry. If the borrower's account no
// longer covers the principal the whole operation fails and the rental stays
// active.
func (e *Engine) EmergencyReturn(ctx context.Context, lender string, rentalID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agreement, found, err := e.store.GetRental(ctx, rentalID)
	if err != nil {
		return err
	}
	if !found {
		return ErrRentalNotFound
	}
	if agreement.Lender != lender {
		return ErrUnauthorizedAccess
	}
	if !agreement.Active {
		return ErrRentalExpired
	}
	if !e.now().UTC().After(agreement.EndTime) {
		return ErrRentalActive
	}

	legs := []ledger.Leg{
		{FromID: agreement.Borrower, ToID: lender, Asset: ledger.Asset{Token: agreement.Token, Amount: agreement.Amount}},
	}
	if agreement.Collateral > 0 {
		legs = append(legs, ledger.Leg{FromID: e.vaultID, ToID: lender, Asset: ledger.Asset{Token: agreement.Token, Amount: agreement.Collateral}})
	}

	agreement.Active = false
	agreement.Completed = true
	if err := e.commit(ctx, legs, Mutation{PutRental: &agreement}); err != nil {
		return err
	}

	e.publish(stream.Event{
		Topic:    stream.TopicRentalReclaimed,
		RentalID: rentalID,
		Lender:   lender,
		Borrower: agreement.Borrower,
	})
	return nil
}

// CancelListing returns the escrowed amount to the lender and retires the
// listing permanently. A listing that has been rented cannot be cancelled.
func (e *Engine) CancelListing(ctx context.Context, lender string, listingID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	listing, found, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if !found {
		return ErrRentalNotFound
	}
	if listing.Lender != lender {
		return ErrUnauthorizedAccess
	}
	if !listing.Available {
		return ErrRentalActive
	}

	refund := []ledger.Leg{{FromID: e.vaultID, ToID: lender, Asset: ledger.Asset{Token: listing.Token, Amount: listing.Amount}}}

	listing.Available = false
	if err := e.commit(ctx, refund, Mutation{PutListing: &listing}); err != nil {
		return err
	}

	e.publish(stream.Event{
		Topic:     stream.TopicListingCancelled,
		ListingID: listingID,
		Lender:    lender,
	})
	return nil
}

// GetListing looks up a listing by id.
func (e *Engine) GetListing(ctx context.Context, id uint64) (Listing, error) {
	listing, found, err := e.store.GetListing(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if !found {
		return Listing{}, ErrRentalNotFound
	}
	return listing, nil
}

// GetRental looks up a rental agreement by id.
func (e *Engine) GetRental(ctx context.Context, id uint64) (Rental, error) {
	agreement, found, err := e.store.GetRental(ctx, id)
	if err != nil {
		return Rental{}, err
	}
	if !found {
		return Rental{}, ErrRentalNotFound
	}
	return agreement, nil
}

// GetConfig returns the platform configuration.
func (e *Engine) GetConfig(ctx context.Context) (PlatformConfig, error) {
	cfg, exists, err := e.store.GetConfig(ctx)
	if err != nil {
		return PlatformConfig{}, err
	}
	if !exists {
		return PlatformConfig{}, ErrNotInitialized
	}
	return cfg, nil
}

// UserListings enumerates the listing ids created by an identity, oldest
// first. Unknown identities yield an empty slice.
func (e *Engine) UserListings(ctx context.Context, identity string) ([]uint64, error) {
	return e.store.UserListings(ctx, identity)
}

// UserRentals enumerates the rental ids borrowed by an identity, oldest first.
func (e *Engine) UserRentals(ctx context.Context, identity string) ([]uint64, error) {
	return e.store.UserRentals(ctx, identity)
}

func (e *Engine) publish(evt stream.Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}

// translateGateway maps gateway failures onto the state machine taxonomy.
func translateGateway(err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return ErrInsufficientBalance
	}
	return err
}
