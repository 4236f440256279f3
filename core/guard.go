package core

import (
	"sync"
	"sync/atomic"
)

// SPIOwner tags who currently holds the SPI peripheral.
type SPIOwner uint32

const (
	OwnerNone SPIOwner = iota
	OwnerBridge
	OwnerService
)

// SPIGuard is the cross-core mutual exclusion around the one shared SPI
// peripheral. Every transaction sequence (one host transfer, one storage
// operation) runs under it, even in modes where it is uncontended by
// construction, so concurrent access can be added later without protocol
// changes. The owner tag exists so tests can assert single ownership.
type SPIGuard struct {
	mu    sync.Mutex
	owner uint32
}

// Acquire blocks until the guard is free, then records the owner.
func (g *SPIGuard) Acquire(o SPIOwner) {
	g.mu.Lock()
	atomic.StoreUint32(&g.owner, uint32(o))
}

// Release clears the owner tag and unlocks.
func (g *SPIGuard) Release() {
	atomic.StoreUint32(&g.owner, uint32(OwnerNone))
	g.mu.Unlock()
}

// Owner returns the current holder, or OwnerNone.
func (g *SPIGuard) Owner() SPIOwner {
	return SPIOwner(atomic.LoadUint32(&g.owner))
}

// With runs fn under the guard.
func (g *SPIGuard) With(o SPIOwner, fn func()) {
	g.Acquire(o)
	defer g.Release()
	fn()
}
