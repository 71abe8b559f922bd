package rental

import (
	"context"
	"sync"

	"github.com/mertdlkr/x-rent/internal/ledger"
)

// IndexEntry appends one id to an identity's reverse index.
type IndexEntry struct {
	Identity string
	ID       uint64
}

// Mutation is the full set of record changes one state machine operation
// commits. A store lands a mutation atomically: either every change in it
// becomes visible or none does.
type Mutation struct {
	Config        *PlatformConfig
	ResetCounters bool
	PutListing    *Listing
	PutRental     *Rental
	IndexListing  *IndexEntry
	IndexRental   *IndexEntry
	BumpListingID bool
	BumpRentalID  bool
}

// Store is the durable key-value collaborator. Each method is one typed key
// kind: config, listing(id), rental(id), user index(identity), counters.
type Store interface {
	GetConfig(ctx context.Context) (PlatformConfig, bool, error)
	GetListing(ctx context.Context, id uint64) (Listing, bool, error)
	GetRental(ctx context.Context, id uint64) (Rental, bool, error)
	UserListings(ctx context.Context, identity string) ([]uint64, error)
	UserRentals(ctx context.Context, identity string) ([]uint64, error)
	NextListingID(ctx context.Context) (uint64, error)
	NextRentalID(ctx context.Context) (uint64, error)
	Apply(ctx context.Context, m Mutation) error
}

// AtomicStore is implemented by stores that also hold the value-transfer
// ledger and can land gateway legs together with a record mutation in one
// transaction. The engine prefers this path when available so a crash
// between moving value and writing records cannot split an operation.
type AtomicStore interface {
	Store
	ApplyWithTransfers(ctx context.Context, legs []ledger.Leg, m Mutation) error
}


// MemoryStore is the canonical in-process Store.
type MemoryStore struct {
	mu            sync.RWMutex
	config        *PlatformConfig
	listings      map[uint64]Listing
	rentals       map[uint64]Rental
	userListings  map[string][]uint64
	userRentals   map[string][]uint64
	nextListingID uint64
	nextRentalID  uint64
}

// NewMemoryStore creates an empty store with counters at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:      make(map[uint64]Listing),
		rentals:       make(map[uint64]Rental),
		userListings:  make(map[string][]uint64),
		userRentals:   make(map[string][]uint64),
		nextListingID: 1,
		nextRentalID:  1,
	}
}

func (s *MemoryStore) GetConfig(ctx context.Context) (PlatformConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return PlatformConfig{}, false, nil
	}
	return *s.config, true, nil
}

func (s *MemoryStore) GetListing(ctx context.Context, id uint64) (Listing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	return l, ok, nil
}

func (s *MemoryStore) GetRental(ctx context.Context, id uint64) (Rental, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rentals[id]
	return r, ok, nil
}

func (s *MemoryStore) UserListings(ctx context.Context, identity string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64(nil), s.userListings[identity]...), nil
}

func (s *MemoryStore) UserRentals(ctx context.Context, identity string) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64(nil), s.userRentals[identity]...), nil
}

func (s *MemoryStore) NextListingID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextListingID, nil
}

func (s *MemoryStore) NextRentalID(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRentalID, nil
}

func (s *MemoryStore) Apply(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Config != nil {
		cfg := *m.Config
		s.config = &cfg
	}
	if m.ResetCounters {
		s.nextListingID = 1
		s.nextRentalID = 1
	}
	if m.PutListing != nil {
		s.listings[m.PutListing.ID] = *m.PutListing
	}
	if m.PutRental != nil {
		s.rentals[m.PutRental.ID] = *m.PutRental
	}
	if m.IndexListing != nil {
		s.userListings[m.IndexListing.Identity] = append(s.userListings[m.IndexListing.Identity], m.IndexListing.ID)
	}
	if m.IndexRental != nil {
		s.userRentals[m.IndexRental.Identity] = append(s.userRentals[m.IndexRental.Identity], m.IndexRental.ID)
	}
	if m.BumpListingID {
		s.nextListingID++
	}
	if m.BumpRentalID {
		s.nextRentalID++
	}
	return nil
}
