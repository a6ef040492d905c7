package protection

import (
	"sync"

	"github.com/stakeguard/slashguard/db/common"
)

// registry caches the public key to validator id mapping in memory. The cache
// is the authority for signing requests: a key that exists on disk but was
// never loaded or registered through this process is still refused. Entries
// are never removed and ids never change.
type registry struct {
	lock sync.RWMutex
	ids  map[string]uint64
}

func newRegistry() *registry {
	return &registry{ids: make(map[string]uint64)}
}

// resolve returns the cached id for the public key, or
// ErrUnregisteredValidator when the key is unknown.
func (r *registry) resolve(pubKey []byte) (uint64, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	id, ok := r.ids[string(pubKey)]
	if !ok {
		return 0, ErrUnregisteredValidator
	}
	return id, nil
}

// extend adds the given validators to the cache.
func (r *registry) extend(validators []*common.Validator) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, v := range validators {
		r.ids[string(v.PublicKey)] = v.ID
	}
}
