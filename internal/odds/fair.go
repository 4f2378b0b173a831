package odds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Format selects the output representation of fair odds.
type Format string

const (
	FormatDecimal    Format = "decimal"
	FormatAmerican   Format = "american"
	FormatFractional Format = "fractional"
	FormatImplied    Format = "implied"
)

// ErrInvalidFormat is returned for an unknown odds format.
var ErrInvalidFormat = errors.New("odds: unknown format")

// Config tunes the fair-odds adjustment pipeline.
type Config struct {
	// FlowSensitivity scales the order-flow-delta adjustment.
	FlowSensitivity decimal.Decimal

	// SharpMoneyWeight scales the Kelly-inspired underdog bias.
	SharpMoneyWeight decimal.Decimal

	// TargetOverround is the implied-probability sum the book is
	// balanced to, commonly 1.00–1.05.
	TargetOverround decimal.Decimal

	// MaxAdjustment caps any option's total probability move as a
	// fraction of its original probability.
	MaxAdjustment decimal.Decimal
}

// DefaultConfig returns moderate pipeline parameters.
func DefaultConfig() Config {
	return Config{
		FlowSensitivity:  decimal.NewFromFloat(0.10),
		SharpMoneyWeight: decimal.NewFromFloat(0.25),
		TargetOverround:  decimal.NewFromInt(1),
		MaxAdjustment:    decimal.NewFromFloat(0.15),
	}
}

// Calculator runs the fair-odds pipeline. It is stateless and used for
// analytics/fair-value display, never for posting trades.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// OptionInput is one option's inputs to the fair-odds pipeline.
type OptionInput struct {
	OptionID string

	// Price is the option's current decimal odds.
	Price decimal.Decimal

	// FlowDelta is the normalized order-flow imbalance in [−1, 1]:
	// (buy volume − sell volume) / (buy volume + sell volume).
	FlowDelta decimal.Decimal

	// MinPrice/MaxPrice are the option's configured price bounds; the
	// pipeline's output never violates them.
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
}

// FairValue is the pipeline output for one option.
type FairValue struct {
	OptionID    string          `json:"option_id"`
	Probability decimal.Decimal `json:"probability"`
	Price       decimal.Decimal `json:"price"` // decimal odds, bound-clamped
	Odds        string          `json:"odds"`  // rendered in the requested format
}

// FairOdds composes, in order: implied-probability extraction from the
// current prices, an order-flow-delta adjustment scaled by
// FlowSensitivity, a Kelly-criterion-inspired bias toward underdog
// pricing weighted by SharpMoneyWeight, book balancing that rescales all
// probabilities to the target overround, a hard cap limiting each
// option's move to MaxAdjustment of its original probability, and
// conversion to the requested format.
func (c *Calculator) FairOdds(inputs []OptionInput, format Format) ([]FairValue, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	original := make([]decimal.Decimal, len(inputs))
	probs := make([]decimal.Decimal, len(inputs))

	// (a) implied probabilities.
	for i, in := range inputs {
		p, err := DecimalToImplied(in.Price)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", in.OptionID, err)
		}
		original[i] = p
		probs[i] = p
	}

	// (b) order-flow adjustment: p ← p × (1 + sensitivity × flowDelta).
	for i, in := range inputs {
		adj := one.Add(c.cfg.FlowSensitivity.Mul(in.FlowDelta))
		probs[i] = probs[i].Mul(adj)
	}

	// (c) Kelly-inspired sharp-money bias. The Kelly fraction
	// f = (b·p − (1−p)) / b with net odds b = price − 1 is negative for
	// overpriced underdogs; sharp money tends to correct toward it.
	for i, in := range inputs {
		b := in.Price.Sub(one)
		if b.IsZero() {
			continue
		}
		f := b.Mul(probs[i]).Sub(one.Sub(probs[i])).DivRound(b, Scale)
		probs[i] = probs[i].Mul(one.Add(c.cfg.SharpMoneyWeight.Mul(f)))
	}

	// (d) book balancing: rescale all probabilities to the target
	// overround.
	sum := decimal.Zero
	for _, p := range probs {
		sum = sum.Add(p)
	}
	if sum.IsPositive() {
		factor := c.cfg.TargetOverround.DivRound(sum, Scale)
		for i := range probs {
			probs[i] = probs[i].Mul(factor)
		}
	}

	// (e) cap each move at MaxAdjustment of the original probability.
	for i := range probs {
		maxMove := original[i].Mul(c.cfg.MaxAdjustment)
		lo := original[i].Sub(maxMove)
		hi := original[i].Add(maxMove)
		if probs[i].LessThan(lo) {
			probs[i] = lo
		} else if probs[i].GreaterThan(hi) {
			probs[i] = hi
		}
	}

	// (f) convert back, respecting each option's price bounds.
	out := make([]FairValue, len(inputs))
	for i, in := range inputs {
		prob := probs[i].Round(Scale)
		price, err := ImpliedToDecimal(prob)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", in.OptionID, err)
		}
		if price.LessThan(in.MinPrice) {
			price = in.MinPrice
		} else if price.GreaterThan(in.MaxPrice) {
			price = in.MaxPrice
		}

		rendered, err := render(price, prob, format)
		if err != nil {
			return nil, err
		}
		out[i] = FairValue{
			OptionID:    in.OptionID,
			Probability: prob,
			Price:       price,
			Odds:        rendered,
		}
	}
	return out, nil
}

// render formats a price/probability pair in the requested odds format.
func render(price, prob decimal.Decimal, format Format) (string, error) {
	switch format {
	case FormatDecimal, "":
		return price.Round(2).String(), nil
	case FormatImplied:
		return prob.Round(4).String(), nil
	case FormatAmerican:
		a, err := DecimalToAmerican(price)
		if err != nil {
			return "", err
		}
		if a.IsPositive() {
			return "+" + a.Round(0).String(), nil
		}
		return a.Round(0).String(), nil
	case FormatFractional:
		f, err := DecimalToFractional(price)
		if err != nil {
			return "", err
		}
		return f.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidFormat, format)
	}
}
