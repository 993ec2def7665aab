package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/auction"
	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/model"
)

// CreateAuction validates the input and persists a new draft auction.
func (e *Engine) CreateAuction(ctx context.Context, in auction.Input) (*model.Auction, error) {
	a, err := auction.New(in, e.ids.NewID(), e.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("save auction: %w", err)
	}

	slog.Info("auction created",
		"id", a.ID,
		"seller", a.SellerAddress,
		"metal", a.MetalType,
		"starting_price", a.StartingPrice.String(),
		"currency", a.Currency,
		"end_time", a.EndTime,
	)
	return a, nil
}

// Activate opens a draft auction for bidding.
func (e *Engine) Activate(ctx context.Context, id string) (*model.Auction, error) {
	return e.transition(ctx, id, []model.Status{model.StatusDraft}, model.StatusActive, nil)
}

// Close ends an active auction ahead of its deadline. Closing an auction
// that has already ended, explicitly or by deadline, is an invalid transition.
func (e *Engine) Close(ctx context.Context, id string) (*model.Auction, error) {
	return e.transition(ctx, id, []model.Status{model.StatusActive}, model.StatusEnded, nil)
}

// Dispute flags an active or ended auction. Bidding stops while disputed.
func (e *Engine) Dispute(ctx context.Context, id, reason string) (*model.Auction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &auction.ValidationError{Field: "reason", Kind: auction.MissingField}
	}
	return e.transition(ctx, id,
		[]model.Status{model.StatusActive, model.StatusEnded},
		model.StatusDisputed,
		func(a *model.Auction) { a.DisputeReason = reason },
	)
}

// ResolveDispute returns a disputed auction to the ended state.
func (e *Engine) ResolveDispute(ctx context.Context, id string) (*model.Auction, error) {
	return e.transition(ctx, id, []model.Status{model.StatusDisputed}, model.StatusEnded, nil)
}

// transition moves an auction from one of the allowed source states to the
// target state under the auction's lock.
func (e *Engine) transition(ctx context.Context, id string, from []model.Status, to model.Status, after func(*model.Auction)) (*model.Auction, error) {
	a, now, unlock, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	prev := a.Status
	if !slices.Contains(from, prev) {
		return nil, &lifecycle.TransitionError{From: prev, To: to}
	}
	if err := lifecycle.Apply(a, to, now); err != nil {
		return nil, err
	}
	if after != nil {
		after(a)
	}
	if err := e.store.SaveAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("save auction %s: %w", id, err)
	}

	slog.Info("auction transitioned", "id", id, "from", prev, "to", to)
	return a, nil
}

// PlaceBid records a bid on an active auction. A bid at or above the
// buy-now price ends the auction immediately.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidder string, amount decimal.Decimal) (*model.Bid, error) {
	bidder = strings.TrimSpace(bidder)
	if bidder == "" {
		return nil, &auction.ValidationError{Field: "bidder_address", Kind: auction.MissingField}
	}

	a, now, unlock, err := e.acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	bid, err := e.ledger.Append(ctx, a, e.ids.NewID(), bidder, amount, now)
	if err != nil {
		return nil, err
	}

	slog.Info("bid placed",
		"auction_id", auctionID,
		"bid_id", bid.ID,
		"bidder", bidder,
		"amount", amount.String(),
		"sequence", bid.Sequence,
	)

	if a.BuyNowPrice != nil && amount.GreaterThanOrEqual(*a.BuyNowPrice) {
		if err := lifecycle.Apply(a, model.StatusEnded, bid.Timestamp); err != nil {
			return nil, err
		}
		// The bid is already recorded, so a failed save is not reported to
		// the bidder. The next operation on the auction completes the ending.
		if err := e.store.SaveAuction(ctx, a); err != nil {
			slog.Error("buy-now ending not persisted",
				"auction_id", auctionID,
				"bid_id", bid.ID,
				"err", err,
			)
			return bid, nil
		}
		slog.Info("buy-now price reached", "auction_id", auctionID, "bid_id", bid.ID)
	}
	return bid, nil
}

// Settle finalizes an ended auction. The highest bid at close wins, unless
// there are no bids or the reserve price was not met; both are reported
// through the settlement outcome with a nil winner, not as errors.
func (e *Engine) Settle(ctx context.Context, id string) (*model.Settlement, error) {
	a, now, unlock, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := lifecycle.Transition(a.Status, model.StatusSettled); err != nil {
		return nil, err
	}

	highest, err := e.ledger.Highest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load highest bid: %w", err)
	}

	st := e.settlement(a, highest, now)
	if err := e.store.SaveSettlement(ctx, st); err != nil {
		return nil, fmt.Errorf("save settlement %s: %w", id, err)
	}
	if err := lifecycle.Apply(a, model.StatusSettled, now); err != nil {
		return nil, err
	}
	if err := e.store.SaveAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("save auction %s: %w", id, err)
	}

	slog.Info("auction settled",
		"id", id,
		"outcome", st.Outcome,
		"amount", st.Amount.String(),
		"fee", st.Fee.String(),
	)
	return st, nil
}

func (e *Engine) settlement(a *model.Auction, highest *model.Bid, now time.Time) *model.Settlement {
	st := &model.Settlement{
		AuctionID:      a.ID,
		Amount:         decimal.Zero,
		Fee:            decimal.Zero,
		SellerProceeds: decimal.Zero,
		Currency:       a.Currency,
		SettledAt:      now.UTC(),
	}

	switch {
	case highest == nil:
		st.Outcome = model.OutcomeNoBids
	case a.ReservePrice != nil && highest.Amount.LessThan(*a.ReservePrice):
		st.Outcome = model.OutcomeReserveNotMet
	default:
		winner := highest.BidderAddress
		st.Outcome = model.OutcomeSold
		st.WinningBid = highest
		st.Winner = &winner
		st.Amount = highest.Amount
		st.Fee, st.SellerProceeds = e.fees.Apply(highest.Amount)
	}
	return st
}
