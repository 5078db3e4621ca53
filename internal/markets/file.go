package markets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// maxRefLen bounds the on-chain reference string.
const maxRefLen = 64

// catalogFile is the TOML layout of an external catalog:
//
//	[[market]]
//	id = "SA-ENERGY-ESKOM-001"
//	...
type catalogFile struct {
	Markets []catalogEntry `toml:"market"`
}

type catalogEntry struct {
	ID         string          `toml:"id"`
	Title      string          `toml:"title"`
	Question   string          `toml:"question"`
	Category   domain.Category `toml:"category"`
	Ref        string          `toml:"ref"`
	FeeBps     *uint64         `toml:"fee_bps"`
	ExpiryDate string          `toml:"expiry_date"`
}

// LoadFile reads a catalog from a TOML file and validates it. Markets without
// a fee get DefaultFeeBps.
func LoadFile(path string) ([]domain.MarketConfig, error) {
	var f catalogFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("markets: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("markets: %s: unknown keys %s: %w", path, strings.Join(keys, ", "), domain.ErrInvalidInput)
	}
	configs := make([]domain.MarketConfig, 0, len(f.Markets))
	for _, e := range f.Markets {
		fee := uint64(DefaultFeeBps)
		if e.FeeBps != nil {
			fee = *e.FeeBps
		}
		configs = append(configs, domain.MarketConfig{
			ID:         e.ID,
			Title:      e.Title,
			Question:   e.Question,
			Category:   e.Category,
			Ref:        e.Ref,
			FeeBps:     fee,
			ExpiryDate: e.ExpiryDate,
		})
	}
	if err := Validate(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// Validate checks a catalog for duplicate ids and malformed entries and
// reports every problem at once.
func Validate(configs []domain.MarketConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("markets: catalog is empty: %w", domain.ErrInvalidInput)
	}

	var errs []error
	seen := make(map[string]bool, len(configs))
	for i, c := range configs {
		where := fmt.Sprintf("market[%d] %q", i, c.ID)
		if strings.TrimSpace(c.ID) == "" {
			errs = append(errs, fmt.Errorf("%s: id is empty", where))
		} else if seen[c.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id", where))
		}
		seen[c.ID] = true

		if c.Ref == "" || len(c.Ref) > maxRefLen {
			errs = append(errs, fmt.Errorf("%s: ref must be 1-%d bytes", where, maxRefLen))
		}
		if c.FeeBps > 10_000 {
			errs = append(errs, fmt.Errorf("%s: fee_bps %d exceeds 10000", where, c.FeeBps))
		}
		if !c.Category.Valid() {
			errs = append(errs, fmt.Errorf("%s: unknown category %q", where, c.Category))
		}
		if _, err := c.Expiry(); err != nil {
			errs = append(errs, fmt.Errorf("%s: expiry_date %q is not YYYY-MM-DD", where, c.ExpiryDate))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("markets: invalid catalog: %w", errors.Join(append(errs, domain.ErrInvalidInput)...))
	}
	return nil
}
