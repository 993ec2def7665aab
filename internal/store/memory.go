package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/bullionx/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps indexed by ID. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	auctions    map[string]*model.Auction
	bids        map[string][]model.Bid // auctionID → bids, chronological
	settlements map[string]*model.Settlement
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions:    make(map[string]*model.Auction),
		bids:        make(map[string][]model.Bid),
		settlements: make(map[string]*model.Settlement),
	}
}

func (s *MemoryStore) SaveAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *a
	s.auctions[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAuctions(_ context.Context) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		auctions = append(auctions, *a)
	}
	return auctions, nil
}

func (s *MemoryStore) InsertBid(_ context.Context, b *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[b.AuctionID]; !ok {
		return fmt.Errorf("auction %s: %w", b.AuctionID, ErrNotFound)
	}
	for _, existing := range s.bids[b.AuctionID] {
		if existing.Sequence == b.Sequence {
			return fmt.Errorf("bid sequence %d already taken for auction %s", b.Sequence, b.AuctionID)
		}
	}
	s.bids[b.AuctionID] = append(s.bids[b.AuctionID], *b)
	return nil
}

func (s *MemoryStore) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[auctionID]
	result := make([]model.Bid, len(bids))
	copy(result, bids)
	return result, nil
}

func (s *MemoryStore) GetHighestBid(_ context.Context, auctionID string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.Bid
	bids := s.bids[auctionID]
	for i := range bids {
		if best == nil || bids[i].Outranks(best) {
			best = &bids[i]
		}
	}
	if best == nil {
		return nil, nil
	}
	b := *best
	return &b, nil
}

func (s *MemoryStore) GetLastBid(_ context.Context, auctionID string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[auctionID]
	if len(bids) == 0 {
		return nil, nil
	}
	b := bids[len(bids)-1]
	return &b, nil
}

func (s *MemoryStore) CountBids(_ context.Context, auctionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.bids[auctionID]), nil
}

func (s *MemoryStore) SaveSettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[st.AuctionID]; ok {
		return fmt.Errorf("settlement for auction %s already exists", st.AuctionID)
	}
	copy := *st
	s.settlements[st.AuctionID] = &copy
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, auctionID string) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[auctionID]
	if !ok {
		return nil, fmt.Errorf("settlement for auction %s: %w", auctionID, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}
