package source

import (
	"fmt"
	"sort"
	"strings"

	"marketdash/internal/model"
)

// Registry maps exchange names to candle sources.
type Registry struct {
	sources  map[string]CandleSource
	fallback string
}

// NewRegistry creates a registry whose default exchange is defaultExchange.
func NewRegistry(defaultExchange string) *Registry {
	return &Registry{
		sources:  make(map[string]CandleSource),
		fallback: strings.ToLower(defaultExchange),
	}
}

// Register adds src under name (case-insensitive), replacing any previous entry.
func (r *Registry) Register(name string, src CandleSource) {
	r.sources[strings.ToLower(name)] = src
}

// Get returns the source for name; "" selects the default exchange.
func (r *Registry) Get(name string) (CandleSource, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = r.fallback
	}
	src, ok := r.sources[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown exchange %q (have %s)", model.ErrInvalidParam, name, strings.Join(r.Names(), ", "))
	}
	return src, nil
}

// Default returns the default exchange name.
func (r *Registry) Default() string { return r.fallback }

// Names returns the registered exchange names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
