// Package cost computes spend and savings for skip-trace lookups.
package cost

import "github.com/propflow/skiptrace-cli/internal/model"

// Rates holds skip-trace provider pricing.
type Rates struct {
	// PerLookup is the price of one billable fresh search.
	PerLookup float64 `yaml:"per_lookup" mapstructure:"per_lookup"`
}

// DefaultRates returns the contracted provider pricing.
func DefaultRates() Rates {
	return Rates{PerLookup: 0.10}
}

// Calculator computes costs for batch processing.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Summary reports what a batch run spent and what the cache saved.
type Summary struct {
	// FreshSpend is the amount paid for fresh provider lookups.
	FreshSpend float64 `json:"fresh_spend"`
	// CacheSavings is what the reused cache entries would have cost.
	CacheSavings float64 `json:"cache_savings"`
}

// Summarize prices a batch's outcome counts.
func (c *Calculator) Summarize(counts model.BatchCounts) Summary {
	return Summary{
		FreshSpend:   float64(counts.FreshHits) * c.rates.PerLookup,
		CacheSavings: float64(counts.CacheHits) * c.rates.PerLookup,
	}
}

// Estimate is the projected cost range for a batch before processing.
type Estimate struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Estimate projects the cost of processing totalRows records. Under
// prefer_cache the floor is zero (every address already cached); the
// ceiling assumes every row pays for a fresh lookup. force_refresh
// always pays the ceiling, less whatever rows share an address, which
// is unknown before normalization.
func (c *Calculator) Estimate(totalRows int, policy model.RefreshPolicy) Estimate {
	max := float64(totalRows) * c.rates.PerLookup
	est := Estimate{Min: 0, Max: max}
	if policy == model.RefreshForce {
		est.Min = max
	}
	return est
}
