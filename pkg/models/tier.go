package models

import (
	"encoding/json"
	"fmt"
)

// Tier is one of the three capability/price levels of the remote model.
type Tier int

const (
	TierLow  Tier = iota // cheap, fast — greetings, confirmations, trivial math
	TierMid              // mid-range — ordinary split requests
	TierHigh             // full capability — multi-currency, conditional, large groups
)

var tierNames = [...]string{"low", "mid", "high"}

func (t Tier) String() string {
	if int(t) >= 0 && int(t) < len(tierNames) {
		return tierNames[t]
	}
	return "unknown"
}

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var i int
		if err2 := json.Unmarshal(data, &i); err2 != nil {
			return err
		}
		*t = Tier(i)
		return nil
	}
	switch s {
	case "low":
		*t = TierLow
	case "mid":
		*t = TierMid
	case "high":
		*t = TierHigh
	default:
		return fmt.Errorf("unknown tier %q", s)
	}
	return nil
}

// ParseTier parses a tier name as produced by String.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "low":
		return TierLow, nil
	case "mid":
		return TierMid, nil
	case "high":
		return TierHigh, nil
	}
	return TierLow, fmt.Errorf("unknown tier %q", s)
}

// AllTiers lists the tiers in ascending price order.
func AllTiers() []Tier {
	return []Tier{TierLow, TierMid, TierHigh}
}

// TierPrice holds the per-1K-unit prices for one tier in the reference currency.
type TierPrice struct {
	InputPer1K  float64 `json:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" mapstructure:"output_per_1k"`
}

// PricingTable is the static per-tier price data plus the conversion rate
// from the reference currency into the billing currency. Loaded once at
// process start and passed by reference; never mutated afterwards.
type PricingTable struct {
	Prices       map[Tier]TierPrice
	ExchangeRate float64
	Currency     string
}

// PriceFor returns the price entry for a tier.
func (p *PricingTable) PriceFor(t Tier) TierPrice {
	return p.Prices[t]
}

// DefaultPricingTable returns a pricing table with representative defaults.
// Real deployments override these through configuration.
func DefaultPricingTable() *PricingTable {
	return &PricingTable{
		Prices: map[Tier]TierPrice{
			TierLow:  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
			TierMid:  {InputPer1K: 0.003, OutputPer1K: 0.015},
			TierHigh: {InputPer1K: 0.015, OutputPer1K: 0.075},
		},
		ExchangeRate: 1.0,
		Currency:     "USD",
	}
}
