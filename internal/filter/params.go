package filter

import (
	"fmt"
	"slices"
	"sort"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Params is the decoded [scans.filter] table of a scan job.
type Params map[string]any

func (p Params) priceRange() (PriceRange, error) {
	lo, err := p.int64("min_price")
	if err != nil {
		return PriceRange{}, err
	}
	hi, err := p.int64("max_price")
	if err != nil {
		return PriceRange{}, err
	}
	r := PriceRange{Min: lo, Max: hi}
	return r, r.validate()
}

func (p Params) int64(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%w: %s must be whole minor units, got %v", domain.ErrInvalidFilter, key, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", domain.ErrInvalidFilter, key, v)
	}
}

func (p Params) strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case string:
		return []string{s}, nil
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings, got %T", domain.ErrInvalidFilter, key, e)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of strings, got %T", domain.ErrInvalidFilter, key, v)
	}
}

func (p Params) optBool(key string) (*bool, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a bool, got %T", domain.ErrInvalidFilter, key, v)
	}
	return &b, nil
}

func (p Params) rejectUnknown(known ...string) error {
	var unknown []string
	for k := range p {
		if !slices.Contains(known, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: unknown keys %v", domain.ErrInvalidFilter, unknown)
}
