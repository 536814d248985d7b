package sessionlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockSerializesSameSession(t *testing.T) {
	s := New()
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("session-1")
			defer unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, order, 5)
}

func TestLockDifferentSessionsDoNotBlockEachOther(t *testing.T) {
	s := New()
	unlockA := s.Lock("session-a")
	done := make(chan struct{})
	go func() {
		unlockB := s.Lock("session-b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session-b lock blocked on unrelated session-a lock")
	}
	unlockA()
}

func TestIndexIsStableForSameSessionID(t *testing.T) {
	s := NewWithStripes(16)
	first := s.index("session-xyz")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, s.index("session-xyz"))
	}
}

func TestNewWithStripesRejectsNonPositive(t *testing.T) {
	s := NewWithStripes(0)
	require.Len(t, s.stripes, 1)
}
