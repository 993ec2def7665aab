// Package sweep periodically closes auctions whose deadline has passed so
// that expiry is persisted and announced even when nobody touches them. It
// also announces auctions the engine ends lazily while serving a request.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/bullionx/auction-engine/internal/events"
	"github.com/bullionx/auction-engine/internal/metrics"
	"github.com/bullionx/auction-engine/internal/model"
)

// Sweeper closes expired auctions and reports which ones it closed.
// *engine.Engine satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context) ([]string, error)
	GetAuction(ctx context.Context, id string) (*model.Auction, error)
}

// Scheduler runs a Sweeper on a fixed interval.
type Scheduler struct {
	sweeper   Sweeper
	publisher events.Publisher
	interval  time.Duration
}

// NewScheduler creates a scheduler. Pass nil for pub to skip events.
func NewScheduler(s Sweeper, pub events.Publisher, interval time.Duration) *Scheduler {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Scheduler{sweeper: s, publisher: pub, interval: interval}
}

// Run sweeps once per interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs a single sweep and returns the IDs it closed.
func (s *Scheduler) Tick(ctx context.Context) []string {
	closed, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		slog.Error("expiry sweep failed", "closed", len(closed), "err", err)
	}
	if len(closed) == 0 {
		return closed
	}

	metrics.SweepClosures.Add(float64(len(closed)))
	metrics.Transitions.WithLabelValues(string(model.StatusEnded)).Add(float64(len(closed)))
	slog.Info("expired auctions closed", "count", len(closed))

	for _, id := range closed {
		a, err := s.sweeper.GetAuction(ctx, id)
		if err != nil {
			slog.Warn("load swept auction failed", "id", id, "err", err)
			continue
		}
		announce(ctx, s.publisher, a)
	}
	return closed
}

// Announcer returns a callback for engine.Options.OnEnded. It counts the
// transition and publishes auction_ended for auctions that an operation
// ended implicitly, so they are announced like the ones a sweep closes.
func Announcer(pub events.Publisher) func(context.Context, model.Auction) {
	if pub == nil {
		pub = events.Nop{}
	}
	return func(ctx context.Context, a model.Auction) {
		metrics.Transitions.WithLabelValues(string(model.StatusEnded)).Inc()
		slog.Info("auction ended implicitly", "id", a.ID, "ended_at", a.EndedAt)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		announce(ctx, pub, &a)
	}
}

const publishTimeout = 2 * time.Second

// announce publishes auction_ended stamped at the moment the auction ended:
// its deadline for expiry, the winning bid's time for a buy-now ending.
func announce(ctx context.Context, pub events.Publisher, a *model.Auction) {
	at := a.EndTime
	if a.EndedAt != nil {
		at = *a.EndedAt
	}
	ev := events.ForAuction(events.AuctionEnded, a, at)
	if err := pub.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "auction_id", a.ID, "err", err)
	}
}
