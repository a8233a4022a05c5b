package arbitrage

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry maps a reference mode (scanner.reference_mode) to the strategy
// that prices listings in that mode.
type Registry struct {
	mu    sync.RWMutex
	modes map[string]Strategy
}

func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{modes: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s under s.Name(). Mode names are unique.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mode := s.Name()
	if _, dup := r.modes[mode]; dup {
		return fmt.Errorf("arbitrage: reference mode %q registered twice", mode)
	}
	r.modes[mode] = s
	return nil
}

func (r *Registry) Get(mode string) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.modes[mode]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("arbitrage: unknown reference mode %q (available: %s)",
			mode, strings.Join(r.Modes(), ", "))
	}
	return s, nil
}

// Modes returns the registered mode names in sorted order.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modes))
	for mode := range r.modes {
		out = append(out, mode)
	}
	slices.Sort(out)
	return out
}
