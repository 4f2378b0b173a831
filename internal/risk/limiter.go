// Package risk enforces exposure limits that account for correlation
// between markets on the same underlying event.
//
// A user long the same outcome across several markets of one event (match
// winner, totals, props) carries correlated risk. This package groups
// exposures by event id and enforces an aggregate cap alongside the
// per-option cap.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrOptionLimitExceeded is returned when a trade would push a single
	// option's net position beyond the per-option maximum.
	ErrOptionLimitExceeded = errors.New("risk: per-option position limit exceeded")

	// ErrEventLimitExceeded is returned when a trade would push the
	// aggregate absolute exposure across one event's markets beyond the
	// event maximum.
	ErrEventLimitExceeded = errors.New("risk: event exposure limit exceeded")
)

// Exposure is a user's net signed position on one option, tagged with the
// owning event for correlation grouping.
type Exposure struct {
	EventID  string
	OptionID string
	Net      decimal.Decimal
}

// Limiter enforces per-option and per-event exposure limits.
type Limiter struct {
	// MaxPerOption is the maximum absolute net position on any single option.
	MaxPerOption decimal.Decimal

	// MaxPerEvent is the maximum aggregate absolute exposure across all
	// options belonging to the same event.
	MaxPerEvent decimal.Decimal
}

// NewLimiter creates a limiter with the given per-option and per-event caps.
func NewLimiter(maxPerOption, maxPerEvent decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerOption: maxPerOption,
		MaxPerEvent:  maxPerEvent,
	}
}

// Check validates whether a trade respects exposure limits.
//
// Parameters:
//   - eventID, optionID: the option being traded and its event
//   - delta: signed change in exposure (+buy / −sell)
//   - existing: the user's current exposures across all options
//
// Returns nil if the trade is within limits, or an error naming the
// violated limit.
func (l *Limiter) Check(eventID, optionID string, delta decimal.Decimal, existing []Exposure) error {
	current := decimal.Zero
	for _, e := range existing {
		if e.OptionID == optionID {
			current = current.Add(e.Net)
		}
	}
	newPosition := current.Add(delta)

	if newPosition.Abs().GreaterThan(l.MaxPerOption) {
		return ErrOptionLimitExceeded
	}

	// Aggregate |exposure| across the event, with the traded option
	// counted at its new value.
	total := newPosition.Abs()
	for _, e := range existing {
		if e.OptionID == optionID {
			continue
		}
		if e.EventID == eventID {
			total = total.Add(e.Net.Abs())
		}
	}

	if total.GreaterThan(l.MaxPerEvent) {
		return ErrEventLimitExceeded
	}

	return nil
}
