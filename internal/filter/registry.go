package filter

import (
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Factory builds a filter from loosely typed config parameters.
type Factory func(p Params) (GameFilter, error)

// Registry maps games to filter factories.
type Registry struct {
	factories map[domain.Game]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add games.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[domain.Game]Factory)}
}

// DefaultRegistry knows every supported game.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.GameCS2, newCS2)
	r.Register(domain.GameDota2, newDota2)
	r.Register(domain.GameRust, newRust)
	r.Register(domain.GameTF2, newTF2)
	return r
}

// Register adds or replaces the factory for game.
func (r *Registry) Register(game domain.Game, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[game] = f
}

// New builds the filter for game from params.
func (r *Registry) New(game domain.Game, params map[string]any) (GameFilter, error) {
	r.mu.RLock()
	f, ok := r.factories[game]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("filter: %w: %q", domain.ErrUnknownGame, game)
	}
	gf, err := f(Params(params))
	if err != nil {
		return nil, fmt.Errorf("filter: %s: %w", game, err)
	}
	return gf, nil
}

// Games returns all registered games, sorted.
func (r *Registry) Games() []domain.Game {
	r.mu.RLock()
	defer r.mu.RUnlock()
	games := make([]domain.Game, 0, len(r.factories))
	for g := range r.factories {
		games = append(games, g)
	}
	slices.Sort(games)
	return games
}

func newCS2(p Params) (GameFilter, error) {
	pr, err := p.priceRange()
	if err != nil {
		return nil, err
	}
	f := CS2Filter{PriceRange: pr}
	if f.Exteriors, err = p.strings("exteriors"); err != nil {
		return nil, err
	}
	if f.Rarities, err = p.strings("rarities"); err != nil {
		return nil, err
	}
	if f.Categories, err = p.strings("categories"); err != nil {
		return nil, err
	}
	if f.StatTrak, err = p.optBool("stattrak"); err != nil {
		return nil, err
	}
	return f, p.rejectUnknown("min_price", "max_price", "exteriors", "rarities", "categories", "stattrak")
}

func newDota2(p Params) (GameFilter, error) {
	pr, err := p.priceRange()
	if err != nil {
		return nil, err
	}
	f := Dota2Filter{PriceRange: pr}
	if f.Heroes, err = p.strings("heroes"); err != nil {
		return nil, err
	}
	if f.Rarities, err = p.strings("rarities"); err != nil {
		return nil, err
	}
	if f.Qualities, err = p.strings("qualities"); err != nil {
		return nil, err
	}
	return f, p.rejectUnknown("min_price", "max_price", "heroes", "rarities", "qualities")
}

func newRust(p Params) (GameFilter, error) {
	pr, err := p.priceRange()
	if err != nil {
		return nil, err
	}
	f := RustFilter{PriceRange: pr}
	if f.Categories, err = p.strings("categories"); err != nil {
		return nil, err
	}
	return f, p.rejectUnknown("min_price", "max_price", "categories")
}

func newTF2(p Params) (GameFilter, error) {
	pr, err := p.priceRange()
	if err != nil {
		return nil, err
	}
	f := TF2Filter{PriceRange: pr}
	if f.Qualities, err = p.strings("qualities"); err != nil {
		return nil, err
	}
	if f.Classes, err = p.strings("classes"); err != nil {
		return nil, err
	}
	return f, p.rejectUnknown("min_price", "max_price", "qualities", "classes")
}
