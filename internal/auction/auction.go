// Package auction handles validation of auction listings and construction
// of new auctions in the draft state.
package auction

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/bullionx/auction-engine/internal/model"
)

const (
	// MaxDescriptionLength bounds the trimmed item description, in characters.
	MaxDescriptionLength = 1000

	MinDurationDays = 1
	MaxDurationDays = 30
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("auction: validation failed")

// Kind classifies a validation failure.
type Kind string

const (
	MissingField Kind = "MissingField"
	OutOfRange   Kind = "OutOfRange"
	InvalidEnum  Kind = "InvalidEnum"
)

// ValidationError names the offending field and the kind of failure.
type ValidationError struct {
	Field string
	Kind  Kind
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("auction: invalid field %s (%s)", e.Field, e.Kind)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field string, kind Kind) error {
	return &ValidationError{Field: field, Kind: kind}
}

var (
	validMetals = map[model.MetalType]bool{
		model.MetalGold:      true,
		model.MetalSilver:    true,
		model.MetalPlatinum:  true,
		model.MetalPalladium: true,
		model.MetalOther:     true,
	}
	validForms = map[model.FormType]bool{
		model.FormCoin:    true,
		model.FormRound:   true,
		model.FormBar:     true,
		model.FormJewelry: true,
		model.FormOther:   true,
	}
	validUnits = map[model.WeightUnit]bool{
		model.UnitTroyOunce: true,
		model.UnitGram:      true,
		model.UnitOunce:     true,
	}
	validCurrencies = map[model.Currency]bool{
		model.CurrencyTest: true,
		model.CurrencyUSDC: true,
		model.CurrencyXRP:  true,
		model.CurrencyCore: true,
	}
	validGraders = map[model.GradingService]bool{
		model.GradingPCGS:  true,
		model.GradingNGC:   true,
		model.GradingANACS: true,
		model.GradingICG:   true,
		model.GradingOther: true,
		model.GradingNone:  true,
	}
	validStatuses = map[model.Status]bool{
		model.StatusDraft:    true,
		model.StatusActive:   true,
		model.StatusEnded:    true,
		model.StatusSettled:  true,
		model.StatusDisputed: true,
	}
)

// ParseMetalType validates a metal type string.
func ParseMetalType(s string) (model.MetalType, error) {
	if s == "" {
		return "", invalid("metal_type", MissingField)
	}
	if !validMetals[model.MetalType(s)] {
		return "", invalid("metal_type", InvalidEnum)
	}
	return model.MetalType(s), nil
}

// ParseStatus validates an auction status string.
func ParseStatus(s string) (model.Status, error) {
	if s == "" {
		return "", invalid("status", MissingField)
	}
	if !validStatuses[model.Status(s)] {
		return "", invalid("status", InvalidEnum)
	}
	return model.Status(s), nil
}

// Input carries the caller-supplied fields of a new listing. Numeric fields
// are pointers so an absent value is told apart from zero; only BuyNowPrice
// and ReservePrice may be nil.
type Input struct {
	ItemDescription string               `json:"item_description"`
	MetalType       model.MetalType      `json:"metal_type"`
	FormType        model.FormType       `json:"form_type"`
	Weight          *decimal.Decimal     `json:"weight"`
	WeightUnit      model.WeightUnit     `json:"weight_unit"`
	Purity          *decimal.Decimal     `json:"purity"`
	GradingService  model.GradingService `json:"grading_service,omitempty"`
	SellerAddress   string               `json:"seller_address"`
	StartingPrice   *decimal.Decimal     `json:"starting_price"`
	BuyNowPrice     *decimal.Decimal     `json:"buy_now_price,omitempty"`
	ReservePrice    *decimal.Decimal     `json:"reserve_price,omitempty"`
	Currency        model.Currency       `json:"currency"`
	DurationDays    *int                 `json:"duration_days"`
}

// Validate checks every field in declaration order and returns the first
// failure as a *ValidationError. Absent required fields are MissingField.
func (in *Input) Validate() error {
	desc := strings.TrimSpace(in.ItemDescription)
	if desc == "" {
		return invalid("item_description", MissingField)
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return invalid("item_description", OutOfRange)
	}

	if _, err := ParseMetalType(string(in.MetalType)); err != nil {
		return err
	}
	if err := checkEnum("form_type", in.FormType, validForms); err != nil {
		return err
	}
	if in.Weight == nil {
		return invalid("weight", MissingField)
	}
	if !in.Weight.IsPositive() {
		return invalid("weight", OutOfRange)
	}
	if err := checkEnum("weight_unit", in.WeightUnit, validUnits); err != nil {
		return err
	}
	if in.Purity == nil {
		return invalid("purity", MissingField)
	}
	if !in.Purity.IsPositive() || in.Purity.GreaterThan(decimal.NewFromInt(1)) {
		return invalid("purity", OutOfRange)
	}
	if in.GradingService != "" && !validGraders[in.GradingService] {
		return invalid("grading_service", InvalidEnum)
	}

	if strings.TrimSpace(in.SellerAddress) == "" {
		return invalid("seller_address", MissingField)
	}

	if in.StartingPrice == nil {
		return invalid("starting_price", MissingField)
	}
	start := *in.StartingPrice
	if !start.IsPositive() {
		return invalid("starting_price", OutOfRange)
	}
	if in.BuyNowPrice != nil && in.BuyNowPrice.LessThan(start) {
		return invalid("buy_now_price", OutOfRange)
	}
	if in.ReservePrice != nil {
		if in.ReservePrice.LessThan(start) {
			return invalid("reserve_price", OutOfRange)
		}
		if in.BuyNowPrice != nil && in.ReservePrice.GreaterThan(*in.BuyNowPrice) {
			return invalid("reserve_price", OutOfRange)
		}
	}
	if err := checkEnum("currency", in.Currency, validCurrencies); err != nil {
		return err
	}

	if in.DurationDays == nil {
		return invalid("duration_days", MissingField)
	}
	if days := *in.DurationDays; days < MinDurationDays || days > MaxDurationDays {
		return invalid("duration_days", OutOfRange)
	}
	return nil
}

func checkEnum[T ~string](field string, v T, valid map[T]bool) error {
	if v == "" {
		return invalid(field, MissingField)
	}
	if !valid[v] {
		return invalid(field, InvalidEnum)
	}
	return nil
}

// New validates the input and returns a draft auction created at now.
// It has no side effects; persisting the result is the caller's job.
func New(in Input, id string, now time.Time) (*model.Auction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	createdAt := now.UTC()
	a := &model.Auction{
		ID:              id,
		ItemDescription: strings.TrimSpace(in.ItemDescription),
		MetalType:       in.MetalType,
		FormType:        in.FormType,
		Weight:          *in.Weight,
		WeightUnit:      in.WeightUnit,
		Purity:          *in.Purity,
		GradingService:  in.GradingService,
		SellerAddress:   strings.TrimSpace(in.SellerAddress),
		StartingPrice:   *in.StartingPrice,
		Currency:        in.Currency,
		CreatedAt:       createdAt,
		EndTime:         createdAt.AddDate(0, 0, *in.DurationDays),
		Status:          model.StatusDraft,
	}
	if in.BuyNowPrice != nil {
		p := *in.BuyNowPrice
		a.BuyNowPrice = &p
	}
	if in.ReservePrice != nil {
		p := *in.ReservePrice
		a.ReservePrice = &p
	}
	return a, nil
}
