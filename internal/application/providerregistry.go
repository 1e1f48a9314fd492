package application

import (
	"slices"
	"sync"

	"github.com/ericfisherdev/storageio/internal/domain/model"
	"github.com/ericfisherdev/storageio/internal/domain/port/driven"
	"github.com/ericfisherdev/storageio/internal/domain/storageerr"
)

// ProviderRegistry maps each credential variant to at most one provider.
// Registration and lookup are safe for concurrent use.
type ProviderRegistry struct {
	providers sync.Map // model.Variant -> driven.Provider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{}
}

// Register installs p under its variant. A second provider for the same
// variant is rejected and the existing registration is left untouched.
func (r *ProviderRegistry) Register(p driven.Provider) error {
	if p == nil {
		return storageerr.New(storageerr.KindInvalidArgument, "provider is nil")
	}
	v := p.Variant()
	if v == "" {
		return storageerr.New(storageerr.KindInvalidArgument, "provider has no variant")
	}
	if _, loaded := r.providers.LoadOrStore(v, p); loaded {
		return storageerr.Newf(storageerr.KindUnrecognizedStorageType, "provider for variant %q already registered", v)
	}
	return nil
}

// Resolve returns the provider registered for v.
func (r *ProviderRegistry) Resolve(v model.Variant) (driven.Provider, error) {
	p, ok := r.providers.Load(v)
	if !ok {
		return nil, storageerr.Newf(storageerr.KindUnrecognizedStorageType, "no provider registered for variant %q", v)
	}
	return p.(driven.Provider), nil
}

// Variants lists the registered variants in sorted order.
func (r *ProviderRegistry) Variants() []model.Variant {
	var out []model.Variant
	r.providers.Range(func(k, _ any) bool {
		out = append(out, k.(model.Variant))
		return true
	})
	slices.Sort(out)
	return out
}
