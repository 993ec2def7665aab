package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bullionx/auction-engine/internal/model"
)

func newCached(t *testing.T) (*CachedStore, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ms := NewMemoryStore()
	return NewCachedStore(ms, rdb, time.Minute), ms, mr
}

func TestPrimary_UnwrapsCache(t *testing.T) {
	cs, ms, _ := newCached(t)

	if got := Primary(cs); got != Store(ms) {
		t.Errorf("expected the memory store behind the cache, got %T", got)
	}
	if got := Primary(ms); got != Store(ms) {
		t.Errorf("expected an unwrapped store to be returned as is, got %T", got)
	}
}

func TestCachedStore_InsertBidInvalidatesLeader(t *testing.T) {
	ctx := context.Background()
	cs, ms, _ := newCached(t)
	seedAuction(t, ms, "a1")

	first := model.Bid{ID: "b1", AuctionID: "a1", Amount: d(60), Timestamp: t0, Sequence: 1}
	if err := cs.InsertBid(ctx, &first); err != nil {
		t.Fatalf("insert bid: %v", err)
	}
	if high, _ := cs.GetHighestBid(ctx, "a1"); high == nil || high.ID != "b1" {
		t.Fatalf("expected b1 to lead, got %+v", high)
	}

	second := model.Bid{ID: "b2", AuctionID: "a1", Amount: d(90), Timestamp: t0.Add(time.Minute), Sequence: 2}
	if err := cs.InsertBid(ctx, &second); err != nil {
		t.Fatalf("insert bid: %v", err)
	}
	if high, _ := cs.GetHighestBid(ctx, "a1"); high == nil || high.ID != "b2" {
		t.Errorf("expected b2 to lead after invalidation, got %+v", high)
	}
}

func TestCachedStore_PrimaryIgnoresStaleEntries(t *testing.T) {
	ctx := context.Background()
	cs, ms, mr := newCached(t)
	seedAuction(t, ms, "a1")

	bid := model.Bid{ID: "b1", AuctionID: "a1", Amount: d(100), Timestamp: t0, Sequence: 1}
	if err := cs.InsertBid(ctx, &bid); err != nil {
		t.Fatalf("insert bid: %v", err)
	}

	// An entry written by another replica that missed the invalidation.
	mr.Set(highestBidKey("a1"), `{"id":"old","auction_id":"a1","amount":"10","sequence":1}`)

	cached, _ := cs.GetHighestBid(ctx, "a1")
	if cached == nil || cached.ID != "old" {
		t.Fatalf("expected the cached entry to be served, got %+v", cached)
	}

	fresh, err := Primary(cs).GetHighestBid(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh == nil || fresh.ID != "b1" {
		t.Errorf("expected b1 from the primary, got %+v", fresh)
	}

	last, _ := cs.GetLastBid(ctx, "a1")
	if last == nil || last.Sequence != 1 {
		t.Errorf("expected the last bid to pass through, got %+v", last)
	}
}
