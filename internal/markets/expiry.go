package markets

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// DefaultBlockTime is the average Algorand block interval used when the
// configuration does not override it.
const DefaultBlockTime = 4500 * time.Millisecond

// ComputeExpiryRound converts an expiry instant into a round:
// current + ceil((expiry - now) / blockTime). Expiries at or before now are
// rejected with domain.ErrExpiryInPast.
func ComputeExpiryRound(current uint64, expiry, now time.Time, blockTime time.Duration) (uint64, error) {
	if blockTime <= 0 {
		return 0, fmt.Errorf("markets: block time must be positive, got %s: %w", blockTime, domain.ErrInvalidInput)
	}
	until := expiry.Sub(now)
	if until <= 0 {
		return 0, fmt.Errorf("markets: expiry %s is %s in the past: %w",
			expiry.Format(time.RFC3339), -until, domain.ErrExpiryInPast)
	}
	rounds := math.Ceil(until.Seconds() / blockTime.Seconds())
	return current + uint64(rounds), nil
}

// Computed pairs a catalog entry with its computed market or the reason it
// could not be computed.
type Computed struct {
	Config domain.MarketConfig
	Market domain.ComputedMarket
	Err    error
}

// Compute derives a ComputedMarket for every config, in order. It has no side
// effects: the same (round, configs, now, blockTime) always yields the same
// result.
func Compute(round uint64, configs []domain.MarketConfig, now time.Time, blockTime time.Duration) []Computed {
	out := make([]Computed, 0, len(configs))
	for _, cfg := range configs {
		c := Computed{Config: cfg}
		expiry, err := cfg.Expiry()
		if err != nil {
			c.Err = fmt.Errorf("markets: %s: parse expiry %q: %w", cfg.ID, cfg.ExpiryDate, domain.ErrInvalidInput)
			out = append(out, c)
			continue
		}
		expRound, err := ComputeExpiryRound(round, expiry, now, blockTime)
		if err != nil {
			c.Err = fmt.Errorf("markets: %s: %w", cfg.ID, err)
			out = append(out, c)
			continue
		}
		c.Market = domain.ComputedMarket{MarketConfig: cfg, ExpiryRound: expRound}
		out = append(out, c)
	}
	return out
}
