package middleware

import "github.com/aretw0/filedrop/pkg/ports"

// Middleware allows wrapping an InspectableStore to add behavior.
type Middleware func(ports.InspectableStore) ports.InspectableStore

// Chain wraps store with mws so that the first middleware is the outermost one.
func Chain(store ports.InspectableStore, mws ...Middleware) ports.InspectableStore {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			store = mws[i](store)
		}
	}
	return store
}
