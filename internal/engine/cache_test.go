package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/redis/go-redis/v9"

	"github.com/bullionx/auction-engine/internal/ledger"
	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/model"
	"github.com/bullionx/auction-engine/internal/store"
)

func newCachedEngine(t *testing.T) (*Engine, *fakeClock, *store.MemoryStore, *store.CachedStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ms := store.NewMemoryStore()
	cs := store.NewCachedStore(ms, rdb, time.Hour)
	clk := &fakeClock{now: t0}
	return New(cs, Options{Clock: clk, IDs: seqIDs()}), clk, ms, cs
}

func TestEngine_CachedLeaderDoesNotLowerMinimum(t *testing.T) {
	e, _, ms, cs := newCachedEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	_, err := e.PlaceBid(ctx, a.ID, "alice", d("200"))
	assert.NoError(t, err)
	top, err := e.GetHighestBid(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, top.Amount.Equal(d("200")))

	// A write whose cache invalidation was lost.
	lost := model.Bid{ID: "lost", AuctionID: a.ID, BidderAddress: "bob", Amount: d("300"), Timestamp: t0, Sequence: 2}
	assert.NoError(t, ms.InsertBid(ctx, &lost))
	cached, err := cs.GetHighestBid(ctx, a.ID)
	assert.NoError(t, err)
	check.True(t, cached.Amount.Equal(d("200")))

	_, err = e.PlaceBid(ctx, a.ID, "carol", d("250"))
	var low *ledger.BidTooLowError
	assert.True(t, errors.As(err, &low))
	check.True(t, low.Minimum.Equal(d("300")))

	bid, err := e.PlaceBid(ctx, a.ID, "carol", d("301"))
	assert.NoError(t, err)
	check.Equal(t, 3, bid.Sequence)
}

func TestEngine_CachedActiveAuctionDoesNotAcceptBids(t *testing.T) {
	e, clk, ms, cs := newCachedEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	view, err := e.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, view.Status)

	// Ended behind the cache's back.
	stored, err := ms.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	assert.NoError(t, lifecycle.Apply(stored, model.StatusEnded, clk.Now()))
	assert.NoError(t, ms.SaveAuction(ctx, stored))

	cached, err := cs.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusActive, cached.Status)

	_, err = e.PlaceBid(ctx, a.ID, "alice", d("150"))
	check.True(t, errors.Is(err, ledger.ErrAuctionNotActive))

	n, err := e.GetBidCount(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, n)
}

func TestEngine_WritesInvalidateCachedAuction(t *testing.T) {
	e, _, _, cs := newCachedEngine(t)
	ctx := context.Background()
	a := activeAuction(t, e, input("100", 3))

	_, err := e.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	_, err = e.Close(ctx, a.ID)
	assert.NoError(t, err)

	cached, err := cs.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.StatusEnded, cached.Status)
}
