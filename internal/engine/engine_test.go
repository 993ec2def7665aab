package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/auction"
	"github.com/bullionx/auction-engine/internal/ledger"
	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/model"
	"github.com/bullionx/auction-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(by time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(by)
	c.mu.Unlock()
}

func seqIDs() IDGenerator {
	var n atomic.Int64
	return IDFunc(func() string {
		return fmt.Sprintf("id-%03d", n.Add(1))
	})
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func newEngine(t *testing.T) (*Engine, *fakeClock, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	clk := &fakeClock{now: t0}
	return New(ms, Options{Clock: clk, IDs: seqIDs()}), clk, ms
}

func input(start string, days int) auction.Input {
	weight, purity, price := d("1"), d("0.9167"), d(start)
	return auction.Input{
		ItemDescription: "1 oz American Gold Eagle",
		MetalType:       model.MetalGold,
		FormType:        model.FormCoin,
		Weight:          &weight,
		WeightUnit:      model.UnitTroyOunce,
		Purity:          &purity,
		SellerAddress:   "seller",
		StartingPrice:   &price,
		Currency:        model.CurrencyUSDC,
		DurationDays:    &days,
	}
}

func activeAuction(t *testing.T, e *Engine, in auction.Input) *model.Auction {
	t.Helper()
	ctx := context.Background()
	a, err := e.CreateAuction(ctx, in)
	assert.NoError(t, err)
	a, err = e.Activate(ctx, a.ID)
	assert.NoError(t, err)
	return a
}

func TestEngine_FullAuctionFlow(t *testing.T) {
	e, clk, _ := newEngine(t)
	ctx := context.Background()

	a, err := e.CreateAuction(ctx, input("100", 7))
	assert.NoError(t, err)
	check.Equal(t, model.StatusDraft, a.Status)
	check.Equal(t, t0.AddDate(0, 0, 7), a.EndTime)

	a, err = e.Activate(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, a.Status)

	_, err = e.PlaceBid(ctx, a.ID, "alice", d("120"))
	assert.NoError(t, err)

	_, err = e.PlaceBid(ctx, a.ID, "bob", d("110"))
	check.True(t, errors.Is(err, ledger.ErrBidTooLow))
	var tooLow *ledger.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.True(t, tooLow.Minimum.Equal(d("120")))

	clk.Advance(time.Hour)
	_, err = e.PlaceBid(ctx, a.ID, "bob", d("150"))
	assert.NoError(t, err)

	n, err := e.GetBidCount(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 2, n)

	_, err = e.Close(ctx, a.ID)
	assert.NoError(t, err)

	st, err := e.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeSold, st.Outcome)
	assert.True(t, st.Winner != nil)
	check.Equal(t, "bob", *st.Winner)
	check.True(t, st.Amount.Equal(d("150")))
	check.True(t, st.Fee.Equal(d("1.65")))
	check.True(t, st.SellerProceeds.Equal(d("148.35")))

	got, err := e.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusSettled, got.Status)

	saved, err := e.GetSettlement(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeSold, saved.Outcome)
}

func TestEngine_DraftRejectsBids(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	a, err := e.CreateAuction(ctx, input("100", 3))
	assert.NoError(t, err)

	_, err = e.PlaceBid(ctx, a.ID, "alice", d("500"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	n, err := e.GetBidCount(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, n)
}

func TestEngine_SelfBidForbidden(t *testing.T) {
	e, _, _ := newEngine(t)
	a := activeAuction(t, e, input("100", 3))

	_, err := e.PlaceBid(context.Background(), a.ID, "seller", d("200"))
	check.True(t, errors.Is(err, ledger.ErrSelfBidForbidden))
}

func TestEngine_EmptyBidderIsValidationError(t *testing.T) {
	e, _, _ := newEngine(t)

	// Checked before the auction is even looked up.
	_, err := e.PlaceBid(context.Background(), "missing", "  ", d("200"))
	check.True(t, errors.Is(err, auction.ErrValidation))
}

func TestEngine_SettleWithoutBids(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	_, err := e.Close(ctx, a.ID)
	assert.NoError(t, err)

	st, err := e.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeNoBids, st.Outcome)
	check.Nil(t, st.Winner)
	check.Nil(t, st.WinningBid)
	check.True(t, st.Amount.IsZero())
}

func TestEngine_ReserveNotMet(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	in := input("100", 3)
	in.ReservePrice = dp("300")
	a := activeAuction(t, e, in)

	_, err := e.PlaceBid(ctx, a.ID, "alice", d("250"))
	assert.NoError(t, err)
	_, err = e.Close(ctx, a.ID)
	assert.NoError(t, err)

	st, err := e.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeReserveNotMet, st.Outcome)
	check.Nil(t, st.Winner)
}

func TestEngine_SecondCloseIsInvalidTransition(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	_, err := e.Close(ctx, a.ID)
	assert.NoError(t, err)

	_, err = e.Close(ctx, a.ID)
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))
}

func TestEngine_SettleTwiceFails(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	_, err := e.Close(ctx, a.ID)
	assert.NoError(t, err)
	_, err = e.Settle(ctx, a.ID)
	assert.NoError(t, err)

	_, err = e.Settle(ctx, a.ID)
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))
}

func TestEngine_SettleActiveFails(t *testing.T) {
	e, _, _ := newEngine(t)
	a := activeAuction(t, e, input("100", 3))

	_, err := e.Settle(context.Background(), a.ID)
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))
}

func TestEngine_NotFound(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.GetAuction(ctx, "nope")
	check.True(t, errors.Is(err, ErrNotFound))
	_, err = e.Activate(ctx, "nope")
	check.True(t, errors.Is(err, ErrNotFound))
	_, err = e.PlaceBid(ctx, "nope", "alice", d("1"))
	check.True(t, errors.Is(err, ErrNotFound))
	_, err = e.ListBids(ctx, "nope")
	check.True(t, errors.Is(err, ErrNotFound))
	_, err = e.GetHighestBid(ctx, "nope")
	check.True(t, errors.Is(err, ErrNotFound))
	_, err = e.GetSettlement(ctx, "nope")
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestEngine_SettlementNotFoundBeforeSettle(t *testing.T) {
	e, _, _ := newEngine(t)
	a := activeAuction(t, e, input("100", 3))

	_, err := e.GetSettlement(context.Background(), a.ID)
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestEngine_LazyExpiry(t *testing.T) {
	e, clk, ms := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 1))

	clk.Advance(25 * time.Hour)

	// Reads report the effective status without persisting it.
	view, err := e.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, view.Status)
	assert.True(t, view.EndedAt != nil)
	check.Equal(t, a.EndTime, *view.EndedAt)

	stored, err := ms.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, stored.Status)

	// A write flips it for real, stamped at the deadline.
	_, err = e.PlaceBid(ctx, a.ID, "alice", d("500"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	stored, err = ms.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, stored.Status)
	check.Equal(t, a.EndTime, *stored.EndedAt)

	// Closing after the deadline is not a valid transition.
	_, err = e.Close(ctx, a.ID)
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))

	st, err := e.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeNoBids, st.Outcome)
}

func TestEngine_SettleExpiredWithoutExplicitClose(t *testing.T) {
	e, clk, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 2))

	_, err := e.PlaceBid(ctx, a.ID, "alice", d("101"))
	assert.NoError(t, err)

	clk.Advance(48 * time.Hour)
	st, err := e.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeSold, st.Outcome)
	check.Equal(t, "alice", *st.Winner)
}

func TestEngine_BuyNowEndsAuction(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	in := input("100", 3)
	in.BuyNowPrice = dp("500")
	a := activeAuction(t, e, in)

	_, err := e.PlaceBid(ctx, a.ID, "alice", d("200"))
	assert.NoError(t, err)
	got, err := e.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, got.Status)

	_, err = e.PlaceBid(ctx, a.ID, "bob", d("500"))
	assert.NoError(t, err)
	got, err = e.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, got.Status)

	_, err = e.PlaceBid(ctx, a.ID, "carol", d("600"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))
}

func TestEngine_DisputeAndResolve(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	_, err := e.Dispute(ctx, a.ID, "")
	check.True(t, errors.Is(err, auction.ErrValidation))

	got, err := e.Dispute(ctx, a.ID, "counterfeit suspected")
	assert.NoError(t, err)
	check.Equal(t, model.StatusDisputed, got.Status)
	check.Equal(t, "counterfeit suspected", got.DisputeReason)

	_, err = e.PlaceBid(ctx, a.ID, "alice", d("200"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	_, err = e.Settle(ctx, a.ID)
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))

	got, err = e.ResolveDispute(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, got.Status)
	check.Equal(t, "", got.DisputeReason)
	check.True(t, got.EndedAt != nil)

	_, err = e.ResolveDispute(ctx, a.ID)
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))

	_, err = e.Settle(ctx, a.ID)
	assert.NoError(t, err)
}

func TestEngine_DisputeDraftFails(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	a, err := e.CreateAuction(ctx, input("100", 3))
	assert.NoError(t, err)

	_, err = e.Dispute(ctx, a.ID, "reason")
	check.True(t, errors.Is(err, lifecycle.ErrInvalidTransition))
}

func TestEngine_ConcurrentBidsKeepHighest(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("50", 3))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, amt := range []string{"100", "150"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.PlaceBid(ctx, a.ID, fmt.Sprintf("bidder-%d", i), d(amt))
		}()
	}
	wg.Wait()

	// 150 always succeeds; 100 succeeds only if it landed first.
	check.NoError(t, errs[1])
	if errs[0] != nil {
		check.True(t, errors.Is(errs[0], ledger.ErrBidTooLow))
	}

	top, err := e.GetHighestBid(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, top.Amount.Equal(d("150")))
	check.Equal(t, "bidder-1", top.BidderAddress)
}

func TestEngine_ManyConcurrentBidders(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("1", 3))

	const n = 50
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.PlaceBid(ctx, a.ID, fmt.Sprintf("b%02d", i), decimal.NewFromInt(int64(i+1)))
			if err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, ledger.ErrBidTooLow) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	top, err := e.GetHighestBid(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, top.Amount.Equal(decimal.NewFromInt(n+1)))

	bids, err := e.ListBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, int(accepted.Load()), len(bids))

	// Accepted bids strictly increase in sequence order.
	chrono := slices.Clone(bids)
	slices.SortFunc(chrono, func(x, y model.Bid) int { return x.Sequence - y.Sequence })
	for i := 1; i < len(chrono); i++ {
		check.True(t, chrono[i].Amount.GreaterThan(chrono[i-1].Amount))
		check.Equal(t, chrono[i-1].Sequence+1, chrono[i].Sequence)
	}
	check.Equal(t, 0, e.locks.size())
}

func TestEngine_ListBidsRanked(t *testing.T) {
	e, clk, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("10", 3))

	for _, amt := range []string{"11", "15", "20"} {
		clk.Advance(time.Minute)
		_, err := e.PlaceBid(ctx, a.ID, "bidder-"+amt, d(amt))
		assert.NoError(t, err)
	}

	bids, err := e.ListBids(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(bids))
	check.True(t, bids[0].Amount.Equal(d("20")))
	check.True(t, bids[2].Amount.Equal(d("11")))
}

func TestEngine_SweepExpired(t *testing.T) {
	e, clk, ms := newEngine(t)
	ctx := context.Background()

	short1 := activeAuction(t, e, input("10", 1))
	short2 := activeAuction(t, e, input("10", 1))
	long := activeAuction(t, e, input("10", 5))
	draft, err := e.CreateAuction(ctx, input("10", 1))
	assert.NoError(t, err)

	closed, err := e.SweepExpired(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(closed))

	clk.Advance(2 * 24 * time.Hour)
	closed, err = e.SweepExpired(ctx)
	assert.NoError(t, err)
	want := []string{short1.ID, short2.ID}
	slices.Sort(want)
	check.Equal(t, want, closed)

	for _, id := range want {
		a, err := ms.GetAuction(ctx, id)
		assert.NoError(t, err)
		check.Equal(t, model.StatusEnded, a.Status)
	}
	a, err := ms.GetAuction(ctx, long.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, a.Status)
	a, err = ms.GetAuction(ctx, draft.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusDraft, a.Status)

	// Idempotent.
	closed, err = e.SweepExpired(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(closed))
	check.Equal(t, 0, e.locks.size())
}

func TestEngine_ListAuctionsFilterAndSort(t *testing.T) {
	e, clk, _ := newEngine(t)
	ctx := context.Background()

	gold := input("100", 3)
	silver := input("30", 10)
	silver.MetalType = model.MetalSilver
	plat := input("900", 5)
	plat.MetalType = model.MetalPlatinum

	g, err := e.CreateAuction(ctx, gold)
	assert.NoError(t, err)
	clk.Advance(time.Minute)
	s := activeAuction(t, e, silver)
	clk.Advance(time.Minute)
	p := activeAuction(t, e, plat)

	collect := func(f Filter) []string {
		t.Helper()
		seq, err := e.ListAuctions(ctx, f)
		assert.NoError(t, err)
		var ids []string
		for a := range seq {
			ids = append(ids, a.ID)
		}
		return ids
	}

	check.Equal(t, []string{p.ID, s.ID, g.ID}, collect(Filter{}))
	check.Equal(t, []string{g.ID, s.ID, p.ID}, collect(Filter{SortOrder: Asc}))
	check.Equal(t, []string{s.ID, g.ID, p.ID}, collect(Filter{SortBy: SortByStartingPrice, SortOrder: Asc}))
	check.Equal(t, []string{s.ID, p.ID, g.ID}, collect(Filter{SortBy: SortByEndTime}))
	check.Equal(t, []string{s.ID}, collect(Filter{MetalType: model.MetalSilver}))
	check.Equal(t, []string{g.ID}, collect(Filter{Status: model.StatusDraft}))
	check.Equal(t, []string{g.ID}, collect(Filter{MinPrice: dp("50"), MaxPrice: dp("100")}))

	// Expired auctions are listed under their effective status.
	clk.Advance(6 * 24 * time.Hour)
	check.Equal(t, []string{p.ID}, collect(Filter{Status: model.StatusEnded}))
	check.Equal(t, []string{s.ID}, collect(Filter{Status: model.StatusActive}))
}

func TestEngine_ListAuctionsStopsEarly(t *testing.T) {
	e, clk, _ := newEngine(t)
	ctx := context.Background()
	for range 5 {
		clk.Advance(time.Second)
		_, err := e.CreateAuction(ctx, input("10", 3))
		assert.NoError(t, err)
	}

	seq, err := e.ListAuctions(ctx, Filter{})
	assert.NoError(t, err)
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	check.Equal(t, 2, n)
}

func TestEngine_ListAuctionsRejectsBadFilter(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	for _, f := range []Filter{
		{SortBy: "weight"},
		{SortOrder: "sideways"},
		{MinPrice: dp("10"), MaxPrice: dp("5")},
	} {
		_, err := e.ListAuctions(ctx, f)
		check.True(t, errors.Is(err, auction.ErrValidation))
	}
}

func TestEngine_CreateAuctionValidates(t *testing.T) {
	e, _, ms := newEngine(t)
	ctx := context.Background()

	in := input("100", 31)
	_, err := e.CreateAuction(ctx, in)
	check.True(t, errors.Is(err, auction.ErrValidation))

	all, err := ms.ListAuctions(ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(all))
}

func TestKeyedMutex_DropsIdleKeys(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.lock("a")
	unlockB := k.lock("b")
	check.Equal(t, 2, k.size())

	done := make(chan struct{})
	go func() {
		unlock := k.lock("a")
		unlock()
		close(done)
	}()

	unlockB()
	unlockA()
	<-done
	check.Equal(t, 0, k.size())
}

func TestEngine_SerializedBidsBothAppend(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("50", 3))

	_, err := e.PlaceBid(ctx, a.ID, "alice", d("100"))
	assert.NoError(t, err)
	_, err = e.PlaceBid(ctx, a.ID, "bob", d("150"))
	assert.NoError(t, err)

	n, err := e.GetBidCount(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 2, n)
	top, err := e.GetHighestBid(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, top.Amount.Equal(d("150")))
}

func TestEngine_BidTimestampsNeverGoBackwards(t *testing.T) {
	e, clk, _ := newEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("10", 3))

	clk.Advance(time.Hour)
	first, err := e.PlaceBid(ctx, a.ID, "alice", d("20"))
	assert.NoError(t, err)

	clk.Advance(-30 * time.Minute)
	second, err := e.PlaceBid(ctx, a.ID, "bob", d("30"))
	assert.NoError(t, err)

	check.True(t, !second.Timestamp.Before(first.Timestamp))
	check.Equal(t, 2, second.Sequence)
}

func TestEngine_OnEndedReportsLazyExpiryOnce(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: t0}
	var ended []model.Auction
	e := New(store.NewMemoryStore(), Options{
		Clock: clk,
		IDs:   seqIDs(),
		OnEnded: func(_ context.Context, a model.Auction) {
			ended = append(ended, a)
		},
	})
	late := activeAuction(t, e, input("100", 1))
	idle := activeAuction(t, e, input("100", 1))

	clk.Advance(25 * time.Hour)
	_, err := e.PlaceBid(ctx, late.ID, "alice", d("500"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	assert.Equal(t, 1, len(ended))
	check.Equal(t, late.ID, ended[0].ID)
	check.Equal(t, model.StatusEnded, ended[0].Status)
	assert.True(t, ended[0].EndedAt != nil)
	check.Equal(t, late.EndTime, *ended[0].EndedAt)

	// Already ended, nothing more to report.
	_, err = e.PlaceBid(ctx, late.ID, "bob", d("600"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))
	check.Equal(t, 1, len(ended))

	// The sweep reports through its return value.
	closed, err := e.SweepExpired(ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{idle.ID}, closed)
	check.Equal(t, 1, len(ended))
}

// flakySaveStore fails the next failSaves auction writes.
type flakySaveStore struct {
	*store.MemoryStore
	failSaves atomic.Int32
}

func (s *flakySaveStore) SaveAuction(ctx context.Context, a *model.Auction) error {
	if s.failSaves.Load() > 0 {
		s.failSaves.Add(-1)
		return errors.New("connection reset")
	}
	return s.MemoryStore.SaveAuction(ctx, a)
}

func TestEngine_BuyNowEndingCompletedAfterFailedSave(t *testing.T) {
	ctx := context.Background()
	fs := &flakySaveStore{MemoryStore: store.NewMemoryStore()}
	var ended []model.Auction
	e := New(fs, Options{
		Clock: &fakeClock{now: t0},
		IDs:   seqIDs(),
		OnEnded: func(_ context.Context, a model.Auction) {
			ended = append(ended, a)
		},
	})
	in := input("100", 3)
	in.BuyNowPrice = dp("500")
	a := activeAuction(t, e, in)

	fs.failSaves.Store(1)
	bid, err := e.PlaceBid(ctx, a.ID, "bob", d("500"))
	assert.NoError(t, err)
	assert.NotNil(t, bid)

	stored, err := fs.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, stored.Status)

	// The next write on the auction finishes the ending first.
	_, err = e.PlaceBid(ctx, a.ID, "carol", d("600"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	stored, err = fs.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, stored.Status)
	check.Equal(t, bid.Timestamp, *stored.EndedAt)

	assert.Equal(t, 1, len(ended))
	check.Equal(t, a.ID, ended[0].ID)

	n, err := e.GetBidCount(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 1, n)

	st, err := e.Settle(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.OutcomeSold, st.Outcome)
	check.Equal(t, "bob", *st.Winner)
}
