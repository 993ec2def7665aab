package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/auction"
	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/model"
	"github.com/bullionx/auction-engine/internal/store"
)

// SortField selects the key auctions are ordered by.
type SortField string

const (
	SortByCreatedAt     SortField = "created_at"
	SortByEndTime       SortField = "end_time"
	SortByStartingPrice SortField = "starting_price"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Filter narrows and orders ListAuctions. Empty fields match everything;
// the default order is newest first.
type Filter struct {
	MetalType model.MetalType
	Status    model.Status
	MinPrice  *decimal.Decimal // inclusive, on starting price
	MaxPrice  *decimal.Decimal // inclusive, on starting price
	SortBy    SortField
	SortOrder SortOrder
}

// Validate rejects unknown sort keys and inverted price ranges.
func (f *Filter) Validate() error {
	switch f.SortBy {
	case "", SortByCreatedAt, SortByEndTime, SortByStartingPrice:
	default:
		return &auction.ValidationError{Field: "sort_by", Kind: auction.InvalidEnum}
	}
	switch f.SortOrder {
	case "", Asc, Desc:
	default:
		return &auction.ValidationError{Field: "sort_order", Kind: auction.InvalidEnum}
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return &auction.ValidationError{Field: "min_price", Kind: auction.OutOfRange}
	}
	return nil
}

// Match reports whether an auction passes the filter.
func (f *Filter) Match(a *model.Auction) bool {
	if f.MetalType != "" && a.MetalType != f.MetalType {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.MinPrice != nil && a.StartingPrice.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && a.StartingPrice.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

func (f *Filter) less(a, b *model.Auction) bool {
	var c int
	switch f.SortBy {
	case SortByEndTime:
		c = a.EndTime.Compare(b.EndTime)
	case SortByStartingPrice:
		c = a.StartingPrice.Cmp(b.StartingPrice)
	default:
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if c == 0 {
		// Ties fall back to ID so the order is deterministic.
		if a.ID < b.ID {
			c = -1
		} else if a.ID > b.ID {
			c = 1
		}
	}
	if f.SortOrder == Asc {
		return c < 0
	}
	return c > 0
}

// GetAuction returns an auction as it stands now. An active auction past
// its deadline is reported as ended even before a write persists that.
func (e *Engine) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := e.load(ctx, e.store, id)
	if err != nil {
		return nil, err
	}
	view := lifecycle.Effective(*a, e.clock.Now())
	return &view, nil
}

// ListAuctions returns the auctions matching the filter, ordered as the
// filter requests. The snapshot is taken when ListAuctions is called; the
// filter is applied lazily while iterating.
func (e *Engine) ListAuctions(ctx context.Context, f Filter) (iter.Seq[model.Auction], error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	auctions, err := e.store.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	now := e.clock.Now()

	sort.Slice(auctions, func(i, j int) bool {
		return f.less(&auctions[i], &auctions[j])
	})

	return func(yield func(model.Auction) bool) {
		for _, a := range auctions {
			view := lifecycle.Effective(a, now)
			if !f.Match(&view) {
				continue
			}
			if !yield(view) {
				return
			}
		}
	}, nil
}

// ListBids returns an auction's bids, highest amount first.
func (e *Engine) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := e.load(ctx, e.store, auctionID); err != nil {
		return nil, err
	}
	return e.ledger.List(ctx, auctionID)
}

// GetHighestBid returns the leading bid, or nil when there are no bids.
func (e *Engine) GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	if _, err := e.load(ctx, e.store, auctionID); err != nil {
		return nil, err
	}
	return e.store.GetHighestBid(ctx, auctionID)
}

// GetBidCount returns the number of bids on an auction.
func (e *Engine) GetBidCount(ctx context.Context, auctionID string) (int, error) {
	if _, err := e.load(ctx, e.store, auctionID); err != nil {
		return 0, err
	}
	return e.ledger.Count(ctx, auctionID)
}

// GetSettlement returns the settlement of a settled auction.
func (e *Engine) GetSettlement(ctx context.Context, auctionID string) (*model.Settlement, error) {
	if _, err := e.load(ctx, e.store, auctionID); err != nil {
		return nil, err
	}
	st, err := e.store.GetSettlement(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("engine: settlement for auction %s: %w", auctionID, ErrNotFound)
	}
	return st, err
}
