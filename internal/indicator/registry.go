package indicator

import (
	"sync"

	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

// Factory builds an indicator instance from its spec.
type Factory func(spec types.IndicatorSpec) (Indicator, error)

// Registry manages the available indicator factories.
type Registry interface {
	Register(kind types.IndicatorKind, factory Factory) error
	Build(spec types.IndicatorSpec) (Indicator, error)
	ListKinds() []types.IndicatorKind
}

// RegistryV1 is the default registry implementation.
type RegistryV1 struct {
	factories map[types.IndicatorKind]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty indicator registry.
func NewRegistry() Registry {
	return &RegistryV1{
		factories: make(map[types.IndicatorKind]Factory),
		mu:        sync.RWMutex{},
	}
}

// Register adds a factory for an indicator kind.
func (r *RegistryV1) Register(kind types.IndicatorKind, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return errors.Newf(errors.ErrCodeIndicatorAlreadyExists, "indicator kind %s already registered", kind)
	}

	r.factories[kind] = factory

	return nil
}

// Build constructs the indicator described by the spec.
func (r *RegistryV1) Build(spec types.IndicatorSpec) (Indicator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[spec.Kind]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeIndicatorNotFound, "indicator kind %s not registered", spec.Kind)
	}

	return factory(spec)
}

// ListKinds returns every registered indicator kind.
func (r *RegistryV1) ListKinds() []types.IndicatorKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]types.IndicatorKind, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}

	return kinds
}

var (
	defaultRegistry     Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry with every built-in indicator.
func DefaultRegistry() Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(types.IndicatorKindSMA, NewSMA)
		defaultRegistry.Register(types.IndicatorKindEMA, NewEMA)
		defaultRegistry.Register(types.IndicatorKindRSI, NewRSI)
		defaultRegistry.Register(types.IndicatorKindMACD, NewMACD)
		defaultRegistry.Register(types.IndicatorKindBollinger, NewBollingerBands)
		defaultRegistry.Register(types.IndicatorKindVWAP, NewVWAP)
		defaultRegistry.Register(types.IndicatorKindATR, NewATR)
	})

	return defaultRegistry
}
