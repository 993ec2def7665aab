// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetalType is the precious metal an auctioned item is made of.
type MetalType string

const (
	MetalGold      MetalType = "Gold"
	MetalSilver    MetalType = "Silver"
	MetalPlatinum  MetalType = "Platinum"
	MetalPalladium MetalType = "Palladium"
	MetalOther     MetalType = "Other"
)

// FormType is the physical form of the item.
type FormType string

const (
	FormCoin    FormType = "coin"
	FormRound   FormType = "round"
	FormBar     FormType = "bar"
	FormJewelry FormType = "jewelry"
	FormOther   FormType = "other"
)

// WeightUnit is the unit the item weight is expressed in.
type WeightUnit string

const (
	UnitTroyOunce WeightUnit = "troy_oz"
	UnitGram      WeightUnit = "grams"
	UnitOunce     WeightUnit = "ounces"
)

// Currency is the settlement currency of an auction.
type Currency string

const (
	CurrencyTest Currency = "TEST"
	CurrencyUSDC Currency = "USDC"
	CurrencyXRP  Currency = "XRP"
	CurrencyCore Currency = "CORE"
)

// GradingService identifies the third-party grader of a coin, if any.
type GradingService string

const (
	GradingPCGS  GradingService = "PCGS"
	GradingNGC   GradingService = "NGC"
	GradingANACS GradingService = "ANACS"
	GradingICG   GradingService = "ICG"
	GradingOther GradingService = "Other"
	GradingNone  GradingService = "None"
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusSettled  Status = "settled"
	StatusDisputed Status = "disputed"
)

// Outcome describes how an ended auction was settled.
type Outcome string

const (
	OutcomeSold          Outcome = "sold"
	OutcomeNoBids        Outcome = "no_bids"
	OutcomeReserveNotMet Outcome = "reserve_not_met"
)

// Auction is a time-bounded listing of a bullion item.
// Status only ever changes through the lifecycle state machine.
type Auction struct {
	ID              string           `json:"id" db:"id"`
	ItemDescription string           `json:"item_description" db:"item_description"`
	MetalType       MetalType        `json:"metal_type" db:"metal_type"`
	FormType        FormType         `json:"form_type" db:"form_type"`
	Weight          decimal.Decimal  `json:"weight" db:"weight"`
	WeightUnit      WeightUnit       `json:"weight_unit" db:"weight_unit"`
	Purity          decimal.Decimal  `json:"purity" db:"purity"` // fraction in (0, 1]
	GradingService  GradingService   `json:"grading_service,omitempty" db:"grading_service"`
	SellerAddress   string           `json:"seller_address" db:"seller_address"`
	StartingPrice   decimal.Decimal  `json:"starting_price" db:"starting_price"`
	BuyNowPrice     *decimal.Decimal `json:"buy_now_price,omitempty" db:"buy_now_price"`
	ReservePrice    *decimal.Decimal `json:"reserve_price,omitempty" db:"reserve_price"`
	Currency        Currency         `json:"currency" db:"currency"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	EndTime         time.Time        `json:"end_time" db:"end_time"`
	Status          Status           `json:"status" db:"status"`
	ActivatedAt     *time.Time       `json:"activated_at,omitempty" db:"activated_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty" db:"ended_at"`
	DisputeReason   string           `json:"dispute_reason,omitempty" db:"dispute_reason"`
}

// Bid is an immutable offer against an active auction.
// Once accepted, bids are never modified or deleted.
type Bid struct {
	ID            string          `json:"id" db:"id"`
	AuctionID     string          `json:"auction_id" db:"auction_id"`
	BidderAddress string          `json:"bidder_address" db:"bidder_address"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	Sequence      int             `json:"sequence" db:"sequence"` // 1-based, chronological
}

// Outranks reports whether b leads o: the higher amount wins, and equal
// amounts go to the earlier bid.
func (b *Bid) Outranks(o *Bid) bool {
	if c := b.Amount.Cmp(o.Amount); c != 0 {
		return c > 0
	}
	if !b.Timestamp.Equal(o.Timestamp) {
		return b.Timestamp.Before(o.Timestamp)
	}
	if b.Sequence != o.Sequence {
		return b.Sequence < o.Sequence
	}
	return b.ID < o.ID
}

// Settlement is the final outcome of an ended auction. Winner and
// WinningBid are nil unless the outcome is OutcomeSold.
type Settlement struct {
	AuctionID      string          `json:"auction_id" db:"auction_id"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	WinningBid     *Bid            `json:"winning_bid"`
	Winner         *string         `json:"winner" db:"winner"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Fee            decimal.Decimal `json:"fee" db:"fee"`
	SellerProceeds decimal.Decimal `json:"seller_proceeds" db:"seller_proceeds"`
	Currency       Currency        `json:"currency" db:"currency"`
	SettledAt      time.Time       `json:"settled_at" db:"settled_at"`
}
