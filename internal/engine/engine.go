// Package engine ties the auction entity, bid ledger and lifecycle state
// machine together behind a single operation set for the transport layer.
//
// Every write to an auction (activation, bids, closing, settlement,
// disputes, expiry) runs under that auction's own lock, so a bid can never
// be accepted mid-transition. Different auctions never share a lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bullionx/auction-engine/internal/fee"
	"github.com/bullionx/auction-engine/internal/ledger"
	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/model"
	"github.com/bullionx/auction-engine/internal/store"
)

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("engine: not found")

// NotFoundError names the auction that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("engine: auction %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Clock supplies the current time. Injected so tests are deterministic.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// IDGenerator supplies collision-free identifiers for auctions and bids.
type IDGenerator interface {
	NewID() string
}

// IDFunc adapts a function to IDGenerator.
type IDFunc func() string

func (f IDFunc) NewID() string { return f() }

// DefaultSweepConcurrency bounds how many expired auctions a sweep closes
// in parallel.
const DefaultSweepConcurrency = 8

// Options configures an Engine. Zero values select the defaults: the
// system clock, random UUIDs, the default fee schedule and
// DefaultSweepConcurrency.
type Options struct {
	Clock            Clock
	IDs              IDGenerator
	Fees             *fee.Schedule
	SweepConcurrency int

	// OnEnded is called once for each auction that an operation ended as a
	// side effect, because its deadline had passed or its leading bid already
	// met the buy-now price. It runs after the auction's lock is released.
	// Auctions ended by SweepExpired are reported by its return value
	// instead.
	OnEnded func(ctx context.Context, a model.Auction)
}

// Engine executes auction operations against a store.
type Engine struct {
	store      store.Store
	primary    store.Store
	ledger     *ledger.Ledger
	clock      Clock
	ids        IDGenerator
	fees       *fee.Schedule
	locks      *keyedMutex
	sweepLimit int
	onEnded    func(context.Context, model.Auction)
}

// New creates an engine over the given store. Reads made under an
// auction's lock go to the store behind any cache; writes go through st.
func New(st store.Store, opts Options) *Engine {
	e := &Engine{
		store:      st,
		primary:    store.Primary(st),
		ledger:     ledger.New(st),
		clock:      opts.Clock,
		ids:        opts.IDs,
		fees:       opts.Fees,
		locks:      newKeyedMutex(),
		sweepLimit: opts.SweepConcurrency,
		onEnded:    opts.OnEnded,
	}
	if e.clock == nil {
		e.clock = ClockFunc(time.Now)
	}
	if e.ids == nil {
		e.ids = IDFunc(uuid.NewString)
	}
	if e.fees == nil {
		e.fees = fee.Default()
	}
	if e.sweepLimit <= 0 {
		e.sweepLimit = DefaultSweepConcurrency
	}
	return e
}

// load fetches an auction from st, translating a store miss into
// *NotFoundError.
func (e *Engine) load(ctx context.Context, st store.Store, id string) (*model.Auction, error) {
	a, err := st.GetAuction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %s: %w", id, err)
	}
	return a, nil
}

// acquire locks an auction, loads it and applies lazy expiry. The caller
// must call the returned unlock function when err is nil.
func (e *Engine) acquire(ctx context.Context, id string) (*model.Auction, time.Time, func(), error) {
	unlock := e.locks.lock(id)

	a, err := e.load(ctx, e.primary, id)
	if err != nil {
		unlock()
		return nil, time.Time{}, nil, err
	}

	now := e.clock.Now()
	ended, err := e.catchUp(ctx, a, now)
	if err != nil {
		unlock()
		return nil, time.Time{}, nil, err
	}
	if !ended || e.onEnded == nil {
		return a, now, unlock, nil
	}

	snapshot := *a
	return a, now, func() {
		unlock()
		e.onEnded(ctx, snapshot)
	}, nil
}

// catchUp brings a freshly loaded auction up to date: a pending buy-now
// ending is completed first, then lazy expiry is applied. Reports whether
// the auction was ended. Must be called with the auction's lock held.
func (e *Engine) catchUp(ctx context.Context, a *model.Auction, now time.Time) (bool, error) {
	done, err := e.finishBuyNow(ctx, a)
	if err != nil || done {
		return done, err
	}
	return e.expire(ctx, a, now)
}

// expire flips an active auction past its deadline to ended and persists
// it. Must be called with the auction's lock held.
func (e *Engine) expire(ctx context.Context, a *model.Auction, now time.Time) (bool, error) {
	if !lifecycle.Expired(a, now) {
		return false, nil
	}
	if err := lifecycle.Apply(a, model.StatusEnded, a.EndTime); err != nil {
		return false, err
	}
	if err := e.store.SaveAuction(ctx, a); err != nil {
		return false, fmt.Errorf("persist expiry of %s: %w", a.ID, err)
	}
	slog.Info("auction expired", "id", a.ID, "end_time", a.EndTime)
	return true, nil
}

// finishBuyNow ends an active auction whose leading bid already meets the
// buy-now price, stamped at that bid's time. This state is left behind when
// a buy-now bid was recorded but saving the ended auction failed.
func (e *Engine) finishBuyNow(ctx context.Context, a *model.Auction) (bool, error) {
	if a.Status != model.StatusActive || a.BuyNowPrice == nil {
		return false, nil
	}
	highest, err := e.ledger.Highest(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("load highest bid: %w", err)
	}
	if highest == nil || highest.Amount.LessThan(*a.BuyNowPrice) {
		return false, nil
	}
	if err := lifecycle.Apply(a, model.StatusEnded, highest.Timestamp); err != nil {
		return false, err
	}
	if err := e.store.SaveAuction(ctx, a); err != nil {
		return false, fmt.Errorf("persist buy-now ending of %s: %w", a.ID, err)
	}
	slog.Info("pending buy-now ending completed", "id", a.ID, "bid_id", highest.ID)
	return true, nil
}
