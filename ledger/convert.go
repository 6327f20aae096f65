package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONVERTER - Injected currency conversion
// =============================================================================

// Converter turns an amount in one currency into another as of a date.
// Rate sourcing is outside the core; implementations must be pure for a
// given (from, to, asOf) so results are cacheable.
type Converter interface {
	Convert(amount decimal.Decimal, from, to string, asOf Date) (decimal.Decimal, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc func(amount decimal.Decimal, from, to string, asOf Date) (decimal.Decimal, error)

func (f ConverterFunc) Convert(amount decimal.Decimal, from, to string, asOf Date) (decimal.Decimal, error) {
	return f(amount, from, to, asOf)
}

// UnitConverter handles only the degenerate case from == to. It is the
// default when no converter is injected; any real cross-currency use needs
// a rate-backed implementation.
type UnitConverter struct{}

func (UnitConverter) Convert(amount decimal.Decimal, from, to string, _ Date) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	return decimal.Zero, fmt.Errorf("no conversion rate from %s to %s", from, to)
}

// RateTable converts through a fixed table of rates. Missing pairs are
// tried through the inverse before failing.
type RateTable struct {
	// Rates maps "FROM/TO" to the multiplier applied to FROM amounts.
	Rates map[string]decimal.Decimal
}

func (rt RateTable) Convert(amount decimal.Decimal, from, to string, _ Date) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	if r, ok := rt.Rates[from+"/"+to]; ok {
		return amount.Mul(r), nil
	}
	if r, ok := rt.Rates[to+"/"+from]; ok && !r.IsZero() {
		return amount.Div(r), nil
	}
	return decimal.Zero, fmt.Errorf("no conversion rate from %s to %s", from, to)
}

// =============================================================================
// CACHING CONVERTER - Memoizes per (from, to, asOf) rate
// =============================================================================

type convKey struct {
	From string
	To   string
	On   string
}

// CachingConverter memoizes the effective rate of its inner converter.
// The rate, not the converted amount, is cached, so one probe conversion
// per (pair, date) serves every amount.
type CachingConverter struct {
	inner Converter

	mu    sync.Mutex
	rates map[convKey]decimal.Decimal
}

func NewCachingConverter(inner Converter) *CachingConverter {
	return &CachingConverter{inner: inner, rates: make(map[convKey]decimal.Decimal)}
}

func (c *CachingConverter) Convert(amount decimal.Decimal, from, to string, asOf Date) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	k := convKey{From: from, To: to, On: asOf.String()}

	c.mu.Lock()
	rate, ok := c.rates[k]
	c.mu.Unlock()
	if ok {
		return amount.Mul(rate), nil
	}

	// Probe with 1 to learn the rate, then reuse it for any amount.
	one := decimal.NewFromInt(1)
	converted, err := c.inner.Convert(one, from, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	c.rates[k] = converted
	c.mu.Unlock()

	return amount.Mul(converted), nil
}
