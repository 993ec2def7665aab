package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bullionx/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the store behind the cache.
func (s *CachedStore) Primary() Store {
	return s.primary
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.SaveAuction(ctx, a); err != nil {
		return err
	}
	// Invalidate; the next read re-populates from the primary.
	s.rdb.Del(ctx, auctionKey(a.ID))
	return nil
}

func (s *CachedStore) InsertBid(ctx context.Context, b *model.Bid) error {
	if err := s.primary.InsertBid(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, highestBidKey(b.AuctionID))
	return nil
}

func (s *CachedStore) SaveSettlement(ctx context.Context, st *model.Settlement) error {
	if err := s.primary.SaveSettlement(ctx, st); err != nil {
		return err
	}
	s.cacheJSON(ctx, settlementKey(st.AuctionID), st)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	var a model.Auction
	if s.readJSON(ctx, auctionKey(id), &a) {
		return &a, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, auctionKey(id), got)
	return got, nil
}

func (s *CachedStore) GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	var b model.Bid
	if s.readJSON(ctx, highestBidKey(auctionID), &b) {
		return &b, nil
	}

	got, err := s.primary.GetHighestBid(ctx, auctionID)
	if err != nil || got == nil {
		return got, err
	}
	s.cacheJSON(ctx, highestBidKey(auctionID), got)
	return got, nil
}

func (s *CachedStore) GetSettlement(ctx context.Context, auctionID string) (*model.Settlement, error) {
	var st model.Settlement
	if s.readJSON(ctx, settlementKey(auctionID), &st) {
		return &st, nil
	}

	got, err := s.primary.GetSettlement(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, settlementKey(auctionID), got)
	return got, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx)
}

func (s *CachedStore) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return s.primary.GetBidsByAuction(ctx, auctionID)
}

func (s *CachedStore) GetLastBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	return s.primary.GetLastBid(ctx, auctionID)
}

func (s *CachedStore) CountBids(ctx context.Context, auctionID string) (int, error) {
	return s.primary.CountBids(ctx, auctionID)
}

// --- Cache helpers ---

func (s *CachedStore) readJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func auctionKey(id string) string { return fmt.Sprintf("auction:%s", id) }
func highestBidKey(id string) string { return fmt.Sprintf("auction:%s:highest_bid", id) }
func settlementKey(id string) string { return fmt.Sprintf("auction:%s:settlement", id) }
