// Package api provides the HTTP handlers for creating auctions, placing
// bids, driving the auction lifecycle and reading settlements.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/auction"
	"github.com/bullionx/auction-engine/internal/engine"
	"github.com/bullionx/auction-engine/internal/events"
	"github.com/bullionx/auction-engine/internal/ledger"
	"github.com/bullionx/auction-engine/internal/lifecycle"
	"github.com/bullionx/auction-engine/internal/metrics"
	"github.com/bullionx/auction-engine/internal/model"
)

// publishTimeout bounds how long a handler waits on event delivery.
const publishTimeout = 2 * time.Second

// Service handles auction operations over HTTP. Serialization of writes
// is the engine's job; the service only translates requests and errors.
type Service struct {
	engine    *engine.Engine
	publisher events.Publisher
}

// NewService creates a new auction service.
// Pass nil for pub if event publishing is not needed.
func NewService(eng *engine.Engine, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{engine: eng, publisher: pub}
}

// Routes registers the auction endpoints on r. Mount under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/auctions", s.ListAuctions)
	r.Post("/auctions", s.CreateAuction)
	r.Route("/auctions/{auctionID}", func(r chi.Router) {
		r.Get("/", s.GetAuction)
		r.Post("/activate", s.Activate)
		r.Post("/close", s.Close)
		r.Post("/settle", s.Settle)
		r.Post("/dispute", s.Dispute)
		r.Post("/resolve", s.ResolveDispute)
		r.Get("/settlement", s.GetSettlement)
		r.Get("/bids", s.ListBids)
		r.Post("/bids", s.PlaceBid)
		r.Get("/bids/highest", s.GetHighestBid)
	})
}

// --- Request/Response types ---

// BidRequest is the JSON body for POST /auctions/{auctionID}/bids.
type BidRequest struct {
	BidderAddress string          `json:"bidder_address"`
	Amount        decimal.Decimal `json:"amount"`
}

// DisputeRequest is the JSON body for POST /auctions/{auctionID}/dispute.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// HighestBidResponse is the JSON body returned from GET .../bids/highest.
// HighestBid is null when the auction has no bids.
type HighestBidResponse struct {
	HighestBid *model.Bid `json:"highest_bid"`
	BidCount   int        `json:"bid_count"`
}

// --- HTTP Handlers ---

// CreateAuction handles POST /api/v1/auctions
func (s *Service) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var in auction.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := s.engine.CreateAuction(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAuction handles GET /api/v1/auctions/{auctionID}
func (s *Service) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.GetAuction(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAuctions handles GET /api/v1/auctions
// Optional query parameters: metal_type, status, min_price, max_price,
// sort_by (created_at|end_time|starting_price), sort_order (asc|desc).
func (s *Service) ListAuctions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	seq, err := s.engine.ListAuctions(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	auctions := slices.Collect(seq)
	if auctions == nil {
		auctions = []model.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

func parseFilter(r *http.Request) (engine.Filter, error) {
	q := r.URL.Query()
	f := engine.Filter{
		SortBy:    engine.SortField(q.Get("sort_by")),
		SortOrder: engine.SortOrder(q.Get("sort_order")),
	}
	if v := q.Get("metal_type"); v != "" {
		m, err := auction.ParseMetalType(v)
		if err != nil {
			return f, err
		}
		f.MetalType = m
	}
	if v := q.Get("status"); v != "" {
		st, err := auction.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{
		{"min_price", &f.MinPrice},
		{"max_price", &f.MaxPrice},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		price, err := decimal.NewFromString(v)
		if err != nil {
			return f, &auction.ValidationError{Field: p.name, Kind: auction.OutOfRange}
		}
		*p.dst = &price
	}
	return f, nil
}

// Activate handles POST /api/v1/auctions/{auctionID}/activate
func (s *Service) Activate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, events.AuctionActivated, s.engine.Activate)
}

// Close handles POST /api/v1/auctions/{auctionID}/close
func (s *Service) Close(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, events.AuctionEnded, s.engine.Close)
}

// ResolveDispute handles POST /api/v1/auctions/{auctionID}/resolve
func (s *Service) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, events.DisputeResolved, s.engine.ResolveDispute)
}

// Dispute handles POST /api/v1/auctions/{auctionID}/dispute
func (s *Service) Dispute(w http.ResponseWriter, r *http.Request) {
	var req DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.transition(w, r, events.AuctionDisputed, func(ctx context.Context, id string) (*model.Auction, error) {
		return s.engine.Dispute(ctx, id, req.Reason)
	})
}

func (s *Service) transition(w http.ResponseWriter, r *http.Request, evType events.Type, op func(context.Context, string) (*model.Auction, error)) {
	a, err := op(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Transitions.WithLabelValues(string(a.Status)).Inc()
	s.publish(r.Context(), events.ForAuction(evType, a, time.Now()))
	writeJSON(w, http.StatusOK, a)
}

// Settle handles POST /api/v1/auctions/{auctionID}/settle
// Returns the settlement; an auction without a winner still settles, with
// outcome no_bids or reserve_not_met.
func (s *Service) Settle(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Settle(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Transitions.WithLabelValues(string(model.StatusSettled)).Inc()
	metrics.Settlements.WithLabelValues(string(st.Outcome)).Inc()
	s.publish(r.Context(), events.ForSettlement(st))
	writeJSON(w, http.StatusOK, st)
}

// GetSettlement handles GET /api/v1/auctions/{auctionID}/settlement
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.GetSettlement(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PlaceBid handles POST /api/v1/auctions/{auctionID}/bids
func (s *Service) PlaceBid(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	auctionID := chi.URLParam(r, "auctionID")

	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	bid, err := s.engine.PlaceBid(ctx, auctionID, req.BidderAddress, req.Amount)
	if err != nil {
		metrics.BidRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.BidLatency.Observe(time.Since(start).Seconds())
	s.publish(ctx, events.ForBid(bid))

	// A bid at the buy-now price ends the auction inside PlaceBid.
	if a, err := s.engine.GetAuction(ctx, auctionID); err == nil {
		metrics.BidsAccepted.WithLabelValues(string(a.Currency)).Inc()
		if a.Status == model.StatusEnded && a.BuyNowPrice != nil && bid.Amount.GreaterThanOrEqual(*a.BuyNowPrice) {
			metrics.Transitions.WithLabelValues(string(model.StatusEnded)).Inc()
			s.publish(ctx, events.ForAuction(events.AuctionEnded, a, bid.Timestamp))
		}
	}

	writeJSON(w, http.StatusCreated, bid)
}

// ListBids handles GET /api/v1/auctions/{auctionID}/bids
// Bids are ranked, highest amount first.
func (s *Service) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.engine.ListBids(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// GetHighestBid handles GET /api/v1/auctions/{auctionID}/bids/highest
func (s *Service) GetHighestBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	ctx := r.Context()

	highest, err := s.engine.GetHighestBid(ctx, auctionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	n, err := s.engine.GetBidCount(ctx, auctionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HighestBidResponse{HighestBid: highest, BidCount: n})
}

// publish delivers an event after the operation has committed. Failures
// are logged and never change the response.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("publish event failed", "type", ev.Type, "auction_id", ev.AuctionID, "err", err)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auction.ErrValidation):
		return "validation"
	case errors.Is(err, engine.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrAuctionNotActive):
		return "not_active"
	case errors.Is(err, ledger.ErrSelfBidForbidden):
		return "self_bid"
	case errors.Is(err, ledger.ErrBidTooLow):
		return "too_low"
	default:
		return "internal"
	}
}

// writeEngineError maps domain errors to HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without detail.
func writeEngineError(w http.ResponseWriter, err error) {
	var tooLow *ledger.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   err.Error(),
			"minimum": tooLow.Minimum.String(),
		})
	case errors.Is(err, auction.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrSelfBidForbidden):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrAuctionNotActive),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
