// Package events describes auction state changes for downstream consumers
// and fans them out to NATS and any in-process subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/model"
)

// Type names the kind of state change an Event reports.
type Type string

const (
	BidPlaced        Type = "bid_placed"
	AuctionActivated Type = "auction_activated"
	AuctionEnded     Type = "auction_ended"
	AuctionSettled   Type = "auction_settled"
	AuctionDisputed  Type = "auction_disputed"
	DisputeResolved  Type = "dispute_resolved"
)

// SubjectPrefix is prepended to the auction ID to form the NATS subject.
const SubjectPrefix = "auction.events."

// Event is a single state change on one auction.
type Event struct {
	ID        string           `json:"id"`
	Type      Type             `json:"type"`
	AuctionID string           `json:"auction_id"`
	Status    model.Status     `json:"status,omitempty"`
	BidID     string           `json:"bid_id,omitempty"`
	Bidder    string           `json:"bidder,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Subject returns the NATS subject the event is published on.
func (e *Event) Subject() string {
	return SubjectPrefix + e.AuctionID
}

// ForBid builds a bid_placed event.
func ForBid(b *model.Bid) Event {
	amount := b.Amount
	return Event{
		ID:        uuid.NewString(),
		Type:      BidPlaced,
		AuctionID: b.AuctionID,
		Status:    model.StatusActive,
		BidID:     b.ID,
		Bidder:    b.BidderAddress,
		Amount:    &amount,
		Timestamp: b.Timestamp,
	}
}

// ForAuction builds a lifecycle event carrying the auction's current status.
func ForAuction(t Type, a *model.Auction, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		AuctionID: a.ID,
		Status:    a.Status,
		Timestamp: at.UTC(),
	}
}

// ForSettlement builds an auction_settled event. Amount and Bidder are set
// only when the item sold.
func ForSettlement(st *model.Settlement) Event {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      AuctionSettled,
		AuctionID: st.AuctionID,
		Status:    model.StatusSettled,
		Timestamp: st.SettledAt,
	}
	if st.Outcome == model.OutcomeSold && st.Winner != nil {
		amount := st.Amount
		ev.Amount = &amount
		ev.Bidder = *st.Winner
		if st.WinningBid != nil {
			ev.BidID = st.WinningBid.ID
		}
	}
	return ev
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subj string, data []byte) error
}

var _ natsConn = (*nats.Conn)(nil)

// NATSPublisher publishes events as JSON on auction.events.<auctionID>.
type NATSPublisher struct {
	conn natsConn
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(ev.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Subject(), err)
	}
	return nil
}

// Multi publishes to every publisher in turn. A failing publisher does not
// stop delivery to the rest; failures are logged and the first is returned.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			slog.Warn("event publish failed", "type", ev.Type, "auction_id", ev.AuctionID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
