package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bullionx/auction-engine/internal/lifecycle"
)

// SweepExpired closes every active auction whose deadline has passed and
// returns the IDs it closed, sorted. Each auction is re-read under its own
// lock before being flipped, so a sweep never races a concurrent bid.
func (e *Engine) SweepExpired(ctx context.Context) ([]string, error) {
	auctions, err := e.store.ListAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}

	now := e.clock.Now()
	var candidates []string
	for i := range auctions {
		if lifecycle.Expired(&auctions[i], now) {
			candidates = append(candidates, auctions[i].ID)
		}
	}

	var (
		mu     sync.Mutex
		closed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepLimit)

	for _, id := range candidates {
		g.Go(func() error {
			ok, err := e.expireByID(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				closed = append(closed, id)
				mu.Unlock()
			}
			return nil
		})
	}

	err = g.Wait()
	sort.Strings(closed)
	return closed, err
}

func (e *Engine) expireByID(ctx context.Context, id string) (bool, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	a, err := e.load(ctx, e.primary, id)
	if err != nil {
		return false, err
	}
	return e.catchUp(ctx, a, e.clock.Now())
}
