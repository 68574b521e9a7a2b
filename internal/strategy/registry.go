package strategy

import (
	"fmt"
	"sync"

	"github.com/aristath/coffer/internal/access"
	"github.com/aristath/coffer/internal/config"
	"github.com/aristath/coffer/internal/domain"
	"github.com/rs/zerolog"
)

// Registry manages the closed set of configured adapters. Adapters are
// registered once at startup; lookups by venue name serve the ledger,
// the coordinator and the decision cycle.
type Registry struct {
	adapters map[string]domain.Adapter
	order    []string
	mu       sync.RWMutex
	log      zerolog.Logger
}

// NewRegistry creates a new adapter registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]domain.Adapter),
		log:      log.With().Str("component", "strategy_registry").Logger(),
	}
}

// Register registers an adapter. Duplicate names are an error: venue
// names are the identifiers everything else keys on.
func (r *Registry) Register(adapter domain.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.StrategyName()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter already registered: %s", name)
	}
	r.adapters[name] = adapter
	r.order = append(r.order, name)

	r.log.Debug().Str("name", name).Msg("Registered adapter")
	return nil
}

// Get retrieves an adapter by venue name.
func (r *Registry) Get(name string) (domain.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, domain.ErrUnknownStrategy
	}
	return adapter, nil
}

// Names returns the registered venue names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// List returns all registered adapters in registration order.
func (r *Registry) List() []domain.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]domain.Adapter, 0, len(r.order))
	for _, name := range r.order {
		adapters = append(adapters, r.adapters[name])
	}
	return adapters
}

// BuildRegistry constructs and registers the adapter for every
// configured venue. Variant resolution happens here, once, at
// configuration time.
func BuildRegistry(
	venues []config.VenueConfig,
	deployer string,
	roles *access.Roles,
	store *PrincipalStore,
	clock Clock,
	log zerolog.Logger,
) (*Registry, error) {
	registry := NewRegistry(log)

	for _, v := range venues {
		base := BaseConfig{
			Name:     v.Name,
			RateBps:  v.RateBps,
			Deployer: deployer,
			Roles:    roles,
			Store:    store,
			Clock:    clock,
			Log:      log,
		}

		var adapter domain.Adapter
		switch v.Kind {
		case config.VenueKindStatic:
			adapter = NewStaticRateAdapter(base, 1)
		case config.VenueKindRest:
			client := NewHTTPVenueClient(v.BaseURL, log)
			adapter = NewRESTAdapter(base, client)
		default:
			return nil, fmt.Errorf("venue %s: unknown kind %q", v.Name, v.Kind)
		}

		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
