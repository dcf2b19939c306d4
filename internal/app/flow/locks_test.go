package flow

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocks_MutualExclusion(t *testing.T) {
	l := NewSessionLocks()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("CA100")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestSessionLocks_EvictsIdleEntries(t *testing.T) {
	l := NewSessionLocks()

	unlockA := l.Lock("CA100")
	unlockB := l.Lock("CA200")

	l.mu.Lock()
	assert.Len(t, l.locks, 2)
	l.mu.Unlock()

	unlockA()
	unlockB()

	l.mu.Lock()
	assert.Empty(t, l.locks, "idle entries must be dropped")
	l.mu.Unlock()
}

func TestSessionLocks_KeepsEntryWhileWaitersQueue(t *testing.T) {
	l := NewSessionLocks()

	unlock := l.Lock("CA100")

	acquired := make(chan struct{})
	go func() {
		inner := l.Lock("CA100")
		inner()
		close(acquired)
	}()

	// Wait until the second locker is queued on the entry.
	for {
		l.mu.Lock()
		refs := l.locks["CA100"].refs
		l.mu.Unlock()
		if refs == 2 {
			break
		}
		runtime.Gosched()
	}

	// The waiter keeps the entry alive past the first unlock.
	unlock()
	<-acquired

	l.mu.Lock()
	assert.Empty(t, l.locks)
	l.mu.Unlock()
}
