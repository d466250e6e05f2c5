package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// FXPolicy selects which rate converts a settled gateway amount.
type FXPolicy string

// FX policies.
const (
	// FXPolicySettlement uses the configured rate at webhook time.
	FXPolicySettlement FXPolicy = "settlement"
	// FXPolicyOrder uses the rate snapshot taken when the order was created.
	FXPolicyOrder FXPolicy = "order"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// FXConverter converts between ledger minor units and gateway amounts.
// The rate is gateway currency units per one ledger currency unit.
type FXConverter struct {
	rate   decimal.Decimal
	policy FXPolicy
	places int32
}

// NewFXConverter creates a converter from configuration.
func NewFXConverter(cfg config.FXConfig) (*FXConverter, error) {
	rate, err := cfg.DecimalRate()
	if err != nil {
		return nil, err
	}
	policy := FXPolicy(cfg.Policy)
	switch policy {
	case "":
		policy = FXPolicySettlement
	case FXPolicySettlement, FXPolicyOrder:
	default:
		return nil, fmt.Errorf("unknown fx policy %q", cfg.Policy)
	}
	return &FXConverter{rate: rate, policy: policy, places: cfg.GatewayPlaces}, nil
}

// Rate is the current configured rate.
func (c *FXConverter) Rate() decimal.Decimal { return c.rate }

// Policy returns the active policy.
func (c *FXConverter) Policy() FXPolicy { return c.policy }

// RateFor picks the rate used to settle order. Under the order policy an
// order without a snapshot falls back to the current rate.
func (c *FXConverter) RateFor(order *model.Order) decimal.Decimal {
	if c.policy == FXPolicyOrder && order != nil && order.FxRate != nil && order.FxRate.IsPositive() {
		return *order.FxRate
	}
	return c.rate
}

// ToGateway converts ledger minor units into a gateway amount with the
// configured number of decimals.
func (c *FXConverter) ToGateway(minor int64, rate decimal.Decimal) decimal.Decimal {
	return ToGateway(minor, rate, c.places)
}

// ToGateway converts ledger minor units into a gateway amount rounded half
// away from zero to places decimals.
func ToGateway(minor int64, rate decimal.Decimal, places int32) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(hundred).Mul(rate).Round(places)
}

// ToMinor converts a gateway amount back into ledger minor units, rounding
// half away from zero. Results outside int64 are rejected.
func ToMinor(amount, rate decimal.Decimal) (int64, error) {
	if !rate.IsPositive() {
		return 0, fmt.Errorf("%w: fx rate must be positive", model.ErrValidation)
	}
	minor := amount.Mul(hundred).Div(rate).Round(0)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: amount %s is out of range", model.ErrValidation, amount)
	}
	return minor.IntPart(), nil
}
