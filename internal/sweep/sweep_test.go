package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/auction"
	"github.com/bullionx/auction-engine/internal/engine"
	"github.com/bullionx/auction-engine/internal/events"
	"github.com/bullionx/auction-engine/internal/ledger"
	"github.com/bullionx/auction-engine/internal/model"
	"github.com/bullionx/auction-engine/internal/store"
)

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newActive(t *testing.T, e *engine.Engine, days int) *model.Auction {
	t.Helper()
	ctx := context.Background()
	weight, purity, price := decimal.NewFromInt(1000), decimal.RequireFromString("0.9995"), decimal.NewFromInt(30000)
	a, err := e.CreateAuction(ctx, auction.Input{
		ItemDescription: "1 kg Palladium Bar",
		MetalType:       model.MetalPalladium,
		FormType:        model.FormBar,
		Weight:          &weight,
		WeightUnit:      model.UnitGram,
		Purity:          &purity,
		SellerAddress:   "seller",
		StartingPrice:   &price,
		Currency:        model.CurrencyXRP,
		DurationDays:    &days,
	})
	assert.NoError(t, err)
	a, err = e.Activate(ctx, a.ID)
	assert.NoError(t, err)
	return a
}

func TestScheduler_TickClosesAndPublishes(t *testing.T) {
	t0 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := &clock{now: t0}
	e := engine.New(store.NewMemoryStore(), engine.Options{Clock: clk})
	pub := &recorder{}
	s := NewScheduler(e, pub, time.Minute)

	expiring := newActive(t, e, 1)
	newActive(t, e, 3)

	check.Equal(t, 0, len(s.Tick(context.Background())))

	clk.set(t0.Add(36 * time.Hour))
	closed := s.Tick(context.Background())
	check.Equal(t, []string{expiring.ID}, closed)

	assert.Equal(t, 1, len(pub.got))
	ev := pub.got[0]
	check.Equal(t, events.AuctionEnded, ev.Type)
	check.Equal(t, expiring.ID, ev.AuctionID)
	check.Equal(t, model.StatusEnded, ev.Status)
	check.Equal(t, expiring.EndTime, ev.Timestamp)

	// Nothing left to close.
	check.Equal(t, 0, len(s.Tick(context.Background())))
	check.Equal(t, 1, len(pub.got))
}

func TestAnnouncer_LazyExpiryPublishedOnce(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := &clock{now: t0}
	pub := &recorder{}
	e := engine.New(store.NewMemoryStore(), engine.Options{
		Clock:   clk,
		OnEnded: Announcer(pub),
	})
	s := NewScheduler(e, pub, time.Minute)

	a := newActive(t, e, 7)
	clk.set(t0.Add(8 * 24 * time.Hour))

	_, err := e.PlaceBid(ctx, a.ID, "bidder", decimal.NewFromInt(40000))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	assert.Equal(t, 1, len(pub.got))
	ev := pub.got[0]
	check.Equal(t, events.AuctionEnded, ev.Type)
	check.Equal(t, a.ID, ev.AuctionID)
	check.Equal(t, model.StatusEnded, ev.Status)
	check.Equal(t, a.EndTime, ev.Timestamp)

	// Already persisted as ended, so the sweep has nothing to announce.
	check.Equal(t, 0, len(s.Tick(ctx)))
	check.Equal(t, 1, len(pub.got))
}

type failingSweeper struct {
	calls int
	mu    sync.Mutex
}

func (f *failingSweeper) SweepExpired(context.Context) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("store unavailable")
}

func (f *failingSweeper) GetAuction(context.Context, string) (*model.Auction, error) {
	return nil, errors.New("unused")
}

func (f *failingSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScheduler_RunKeepsGoingAfterErrors(t *testing.T) {
	f := &failingSweeper{}
	s := NewScheduler(f, nil, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not tick repeatedly")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
