package workflows

import (
	"sync"

	"github.com/google/uuid"
)

// KeyedMutex serializes work per entity id while letting distinct entities
// proceed in parallel. Striping bounds memory for arbitrarily many ids.
type KeyedMutex struct {
	stripes []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes < 1 {
		stripes = 1
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for id and returns the unlock function
func (k *KeyedMutex) Lock(id uuid.UUID) func() {
	stripe := &k.stripes[int(id[0])%len(k.stripes)]
	stripe.Lock()
	return stripe.Unlock
}
