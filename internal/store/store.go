// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-node development).
package store

import (
	"context"
	"errors"

	"github.com/bullionx/auction-engine/internal/model"
)

// ErrNotFound is returned by lookups for records that do not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Implementations must be safe for
// concurrent use; the engine serializes writes per auction on top of it.
type Store interface {
	// --- Auctions ---

	// SaveAuction inserts or replaces an auction by ID.
	SaveAuction(ctx context.Context, a *model.Auction) error

	// GetAuction retrieves an auction by ID, or ErrNotFound.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// ListAuctions returns all auctions in no particular order.
	ListAuctions(ctx context.Context) ([]model.Auction, error)

	// --- Append-only bid ledger ---

	// InsertBid appends a bid. Bids are never updated or deleted.
	InsertBid(ctx context.Context, b *model.Bid) error

	// GetBidsByAuction returns an auction's bids in chronological order.
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)

	// GetHighestBid returns the leading bid, or nil if there are no bids.
	GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error)

	// GetLastBid returns the most recently appended bid (highest sequence),
	// or nil if there are no bids.
	GetLastBid(ctx context.Context, auctionID string) (*model.Bid, error)

	// CountBids returns the number of bids on an auction.
	CountBids(ctx context.Context, auctionID string) (int, error)

	// --- Settlements ---

	// SaveSettlement records the outcome of a settled auction.
	SaveSettlement(ctx context.Context, s *model.Settlement) error

	// GetSettlement retrieves a settlement by auction ID, or ErrNotFound.
	GetSettlement(ctx context.Context, auctionID string) (*model.Settlement, error)
}

// Primary unwraps a caching decorator to the store it fronts. Readers that
// must not see stale data, such as the engine under an auction's lock, read
// through Primary and keep writing through the wrapper so caches are
// invalidated. A store that wraps nothing is returned as is.
func Primary(st Store) Store {
	for {
		w, ok := st.(interface{ Primary() Store })
		if !ok {
			return st
		}
		st = w.Primary()
	}
}
