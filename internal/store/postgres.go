package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/model"
)

// Schema creates the tables used by PostgresStore. All monetary values are
// stored as NUMERIC for exact decimal precision.
const Schema = `
CREATE TABLE IF NOT EXISTS auctions (
	id               TEXT PRIMARY KEY,
	item_description TEXT NOT NULL,
	metal_type       TEXT NOT NULL,
	form_type        TEXT NOT NULL,
	weight           NUMERIC NOT NULL,
	weight_unit      TEXT NOT NULL,
	purity           NUMERIC NOT NULL,
	grading_service  TEXT NOT NULL DEFAULT '',
	seller_address   TEXT NOT NULL,
	starting_price   NUMERIC NOT NULL,
	buy_now_price    NUMERIC,
	reserve_price    NUMERIC,
	currency         TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL,
	activated_at     TIMESTAMPTZ,
	ended_at         TIMESTAMPTZ,
	dispute_reason   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_auctions_status_end ON auctions (status, end_time);

CREATE TABLE IF NOT EXISTS bids (
	id             TEXT PRIMARY KEY,
	auction_id     TEXT NOT NULL REFERENCES auctions (id),
	bidder_address TEXT NOT NULL,
	amount         NUMERIC NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	sequence       INTEGER NOT NULL,
	UNIQUE (auction_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_bids_auction_amount ON bids (auction_id, amount DESC, timestamp, sequence);

CREATE TABLE IF NOT EXISTS settlements (
	auction_id      TEXT PRIMARY KEY REFERENCES auctions (id),
	outcome         TEXT NOT NULL,
	winning_bid_id  TEXT REFERENCES bids (id),
	winner          TEXT,
	amount          NUMERIC NOT NULL,
	fee             NUMERIC NOT NULL,
	seller_proceeds NUMERIC NOT NULL,
	currency        TEXT NOT NULL,
	settled_at      TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the necessary tables and indexes if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const auctionColumns = `id, item_description, metal_type, form_type,
	weight::TEXT, weight_unit, purity::TEXT, grading_service, seller_address,
	starting_price::TEXT, buy_now_price::TEXT, reserve_price::TEXT, currency,
	created_at, end_time, status, activated_at, ended_at, dispute_reason`

func (s *PostgresStore) SaveAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, item_description, metal_type, form_type,
		        weight, weight_unit, purity, grading_service, seller_address,
		        starting_price, buy_now_price, reserve_price, currency,
		        created_at, end_time, status, activated_at, ended_at, dispute_reason)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9,
		         $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13,
		         $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     activated_at = EXCLUDED.activated_at,
		     ended_at = EXCLUDED.ended_at,
		     dispute_reason = EXCLUDED.dispute_reason`,
		a.ID, a.ItemDescription, string(a.MetalType), string(a.FormType),
		a.Weight.String(), string(a.WeightUnit), a.Purity.String(),
		string(a.GradingService), a.SellerAddress,
		a.StartingPrice.String(), decimalPtrString(a.BuyNowPrice), decimalPtrString(a.ReservePrice),
		string(a.Currency),
		a.CreatedAt, a.EndTime, string(a.Status), a.ActivatedAt, a.EndedAt, a.DisputeReason,
	)
	if err != nil {
		return fmt.Errorf("save auction %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)

	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (s *PostgresStore) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_address, amount, timestamp, sequence)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		b.ID, b.AuctionID, b.BidderAddress, b.Amount.String(), b.Timestamp, b.Sequence,
	)
	if err != nil {
		return fmt.Errorf("insert bid %s: %w", b.ID, err)
	}
	return nil
}

const bidColumns = `id, auction_id, bidder_address, amount::TEXT, timestamp, sequence`

func (s *PostgresStore) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY sequence`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1
		 ORDER BY amount DESC, timestamp ASC, sequence ASC LIMIT 1`, auctionID)

	b, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get highest bid for %s: %w", auctionID, err)
	}
	return b, nil
}

func (s *PostgresStore) GetLastBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1
		 ORDER BY sequence DESC LIMIT 1`, auctionID)

	b, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last bid for %s: %w", auctionID, err)
	}
	return b, nil
}

func (s *PostgresStore) CountBids(ctx context.Context, auctionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&n)
	return n, err
}

func (s *PostgresStore) SaveSettlement(ctx context.Context, st *model.Settlement) error {
	var winningBidID *string
	if st.WinningBid != nil {
		winningBidID = &st.WinningBid.ID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (auction_id, outcome, winning_bid_id, winner,
		        amount, fee, seller_proceeds, currency, settled_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		st.AuctionID, string(st.Outcome), winningBidID, st.Winner,
		st.Amount.String(), st.Fee.String(), st.SellerProceeds.String(),
		string(st.Currency), st.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("save settlement %s: %w", st.AuctionID, err)
	}
	return nil
}

func (s *PostgresStore) GetSettlement(ctx context.Context, auctionID string) (*model.Settlement, error) {
	var st model.Settlement
	var outcome, currency, amountS, feeS, proceedsS string
	var bidID, bidder, bidAmount *string
	var bidTimestamp *time.Time
	var bidSequence *int

	err := s.pool.QueryRow(ctx,
		`SELECT s.auction_id, s.outcome, s.winner,
		        s.amount::TEXT, s.fee::TEXT, s.seller_proceeds::TEXT,
		        s.currency, s.settled_at,
		        b.id, b.bidder_address, b.amount::TEXT, b.timestamp, b.sequence
		 FROM settlements s
		 LEFT JOIN bids b ON b.id = s.winning_bid_id
		 WHERE s.auction_id = $1`, auctionID).
		Scan(&st.AuctionID, &outcome, &st.Winner,
			&amountS, &feeS, &proceedsS,
			&currency, &st.SettledAt,
			&bidID, &bidder, &bidAmount, &bidTimestamp, &bidSequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settlement for auction %s: %w", auctionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement %s: %w", auctionID, err)
	}

	st.Outcome = model.Outcome(outcome)
	st.Currency = model.Currency(currency)
	st.Amount, _ = decimal.NewFromString(amountS)
	st.Fee, _ = decimal.NewFromString(feeS)
	st.SellerProceeds, _ = decimal.NewFromString(proceedsS)

	if bidID != nil {
		wb := &model.Bid{
			ID:            *bidID,
			AuctionID:     st.AuctionID,
			BidderAddress: deref(bidder),
			Timestamp:     derefTime(bidTimestamp),
		}
		if bidSequence != nil {
			wb.Sequence = *bidSequence
		}
		wb.Amount, _ = decimal.NewFromString(deref(bidAmount))
		st.WinningBid = wb
	}
	return &st, nil
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row pgxRow) (*model.Auction, error) {
	var a model.Auction
	var metal, form, unit, grader, currency, status string
	var weightS, purityS, startS string
	var buyNowS, reserveS *string

	if err := row.Scan(&a.ID, &a.ItemDescription, &metal, &form,
		&weightS, &unit, &purityS, &grader, &a.SellerAddress,
		&startS, &buyNowS, &reserveS, &currency,
		&a.CreatedAt, &a.EndTime, &status, &a.ActivatedAt, &a.EndedAt, &a.DisputeReason); err != nil {
		return nil, err
	}

	a.MetalType = model.MetalType(metal)
	a.FormType = model.FormType(form)
	a.WeightUnit = model.WeightUnit(unit)
	a.GradingService = model.GradingService(grader)
	a.Currency = model.Currency(currency)
	a.Status = model.Status(status)
	a.Weight, _ = decimal.NewFromString(weightS)
	a.Purity, _ = decimal.NewFromString(purityS)
	a.StartingPrice, _ = decimal.NewFromString(startS)
	a.BuyNowPrice = parseDecimalPtr(buyNowS)
	a.ReservePrice = parseDecimalPtr(reserveS)
	a.CreatedAt = a.CreatedAt.UTC()
	a.EndTime = a.EndTime.UTC()

	return &a, nil
}

func scanBid(row pgxRow) (*model.Bid, error) {
	var b model.Bid
	var amountS string

	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderAddress, &amountS, &b.Timestamp, &b.Sequence); err != nil {
		return nil, err
	}
	b.Amount, _ = decimal.NewFromString(amountS)
	b.Timestamp = b.Timestamp.UTC()
	return &b, nil
}

func decimalPtrString(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseDecimalPtr(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
