package adapter

import (
	"fmt"

	"github.com/salutethegenius/kemiscrm-sub000/internal/mailbox/domain"
)

// Registry resolves the adapter for an account's provider tag.
type Registry struct {
	adapters map[domain.Provider]domain.MailAdapter
}

func NewRegistry(adapters ...domain.MailAdapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]domain.MailAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Lookup(p domain.Provider) (domain.MailAdapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, p)
	}
	return a, nil
}
