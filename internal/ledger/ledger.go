// Package ledger is the append-only record of bids per auction. It is the
// only writer of bids: a bid is checked against the auction and the current
// leader, then appended, and never edited or removed afterwards.
//
// The ledger does not lock. Callers must serialize Append calls on the same
// auction so the check and the append happen atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/model"
	"github.com/bullionx/auction-engine/internal/store"
)

var (
	// ErrAuctionNotActive is returned when bidding on an auction that is not active.
	ErrAuctionNotActive = errors.New("ledger: auction is not accepting bids")

	// ErrSelfBidForbidden is returned when the seller bids on their own auction.
	ErrSelfBidForbidden = errors.New("ledger: seller cannot bid on own auction")

	// ErrBidTooLow matches every *BidTooLowError via errors.Is.
	ErrBidTooLow = errors.New("ledger: bid too low")
)

// BidTooLowError carries the amount a bid must exceed.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("ledger: bid must exceed %s", e.Minimum)
}

func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}

// Ledger appends and reads bids through the store. Reads bypass any cache
// in front of the store so Append always checks against the latest leader.
type Ledger struct {
	store store.Store
	reads store.Store
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st, reads: store.Primary(st)}
}

// Minimum returns the amount the next bid must strictly exceed.
func Minimum(a *model.Auction, highest *model.Bid) decimal.Decimal {
	if highest == nil {
		return a.StartingPrice
	}
	return highest.Amount
}

// Check validates a bid against the auction and its current leader. The
// order of checks is fixed and the first failure wins.
func Check(a *model.Auction, highest *model.Bid, bidder string, amount decimal.Decimal) error {
	if !lifecycle.AcceptsBids(a.Status) {
		return ErrAuctionNotActive
	}
	if bidder == a.SellerAddress {
		return ErrSelfBidForbidden
	}
	if floor := Minimum(a, highest); amount.LessThanOrEqual(floor) {
		return &BidTooLowError{Minimum: floor}
	}
	return nil
}

// Append validates and records a bid. The timestamp is clamped so that bid
// times never go backwards within an auction, even if the clock does.
func (l *Ledger) Append(ctx context.Context, a *model.Auction, id, bidder string, amount decimal.Decimal, now time.Time) (*model.Bid, error) {
	highest, err := l.reads.GetHighestBid(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load highest bid: %w", err)
	}
	if err := Check(a, highest, bidder, amount); err != nil {
		return nil, err
	}

	last, err := l.reads.GetLastBid(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load last bid: %w", err)
	}

	ts, seq := now.UTC(), 1
	if last != nil {
		if last.Timestamp.After(ts) {
			ts = last.Timestamp
		}
		seq = last.Sequence + 1
	}

	bid := &model.Bid{
		ID:            id,
		AuctionID:     a.ID,
		BidderAddress: bidder,
		Amount:        amount,
		Timestamp:     ts,
		Sequence:      seq,
	}
	if err := l.store.InsertBid(ctx, bid); err != nil {
		return nil, fmt.Errorf("record bid: %w", err)
	}
	return bid, nil
}

// Highest returns the leading bid, or nil if the auction has none. It reads
// past the cache, so settlement sees the same leader Append checked against.
func (l *Ledger) Highest(ctx context.Context, auctionID string) (*model.Bid, error) {
	return l.reads.GetHighestBid(ctx, auctionID)
}

// Count returns the number of bids placed on an auction.
func (l *Ledger) Count(ctx context.Context, auctionID string) (int, error) {
	return l.reads.CountBids(ctx, auctionID)
}

// List returns an auction's bids highest first.
func (l *Ledger) List(ctx context.Context, auctionID string) ([]model.Bid, error) {
	bids, err := l.reads.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	Rank(bids)
	return bids, nil
}

// Rank sorts bids in place, highest amount first. Equal amounts are ordered
// by timestamp, then sequence, so the result is deterministic.
func Rank(bids []model.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].Outranks(&bids[j])
	})
}
