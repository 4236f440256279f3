package core

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuardSingleOwnership(t *testing.T) {
	g := &SPIGuard{}

	var inside int32
	var wg sync.WaitGroup

	// Bridge and service contexts hammer the guard concurrently; at most
	// one may ever be inside, and the owner tag must match the holder.
	for i := 0; i < 8; i++ {
		owner := OwnerBridge
		if i%2 == 1 {
			owner = OwnerService
		}

		wg.Add(1)
		go func(o SPIOwner) {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				g.Acquire(o)
				if v := atomic.AddInt32(&inside, 1); v != 1 {
					t.Errorf("%d holders inside the guard", v)
				}
				if got := g.Owner(); got != o {
					t.Errorf("owner = %d, want %d", got, o)
				}
				atomic.AddInt32(&inside, -1)
				g.Release()
			}
		}(owner)
	}

	wg.Wait()

	if g.Owner() != OwnerNone {
		t.Errorf("owner = %d after all releases, want OwnerNone", g.Owner())
	}
}

func TestGuardWith(t *testing.T) {
	g := &SPIGuard{}

	ran := false
	g.With(OwnerService, func() {
		ran = true
		if g.Owner() != OwnerService {
			t.Errorf("owner inside With = %d", g.Owner())
		}
	})

	if !ran {
		t.Fatal("With did not run the body")
	}
	if g.Owner() != OwnerNone {
		t.Error("guard still owned after With")
	}
}
