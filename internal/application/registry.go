package application

import (
	"fmt"
	"sync"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
)

// StoreRegistry は名前からストアを引くための登録簿
type StoreRegistry struct {
	mu     sync.RWMutex
	stores map[string]store.Store
	order  []string
}

func NewStoreRegistry() *StoreRegistry {
	return &StoreRegistry{stores: make(map[string]store.Store)}
}

// Register はストアを登録する。同名のストアは登録できない
func (r *StoreRegistry) Register(s store.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stores[s.Name()]; ok {
		return fmt.Errorf("%w: ストア %q は登録済みです", store.ErrInvalidArgument, s.Name())
	}
	r.stores[s.Name()] = s
	r.order = append(r.order, s.Name())
	return nil
}

func (r *StoreRegistry) Lookup(name string) (store.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrStoreNotFound, name)
	}
	return s, nil
}

// Names は登録順のストア名を返す
func (r *StoreRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All は登録順のストアを返す
func (r *StoreRegistry) All() []store.Store {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]store.Store, len(r.order))
	for i, name := range r.order {
		out[i] = r.stores[name]
	}
	return out
}
