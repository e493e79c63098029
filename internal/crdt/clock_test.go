package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_NextIncrementsMonotonically(t *testing.T) {
	c := NewClock()
	assert.Equal(t, uint64(0), c.Current())
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(2), c.Current())
}

func TestClock_ObserveMovesForwardOnly(t *testing.T) {
	c := NewClock()
	c.Observe(10)
	assert.Equal(t, uint64(10), c.Current())

	c.Observe(3)
	assert.Equal(t, uint64(10), c.Current())

	assert.Equal(t, uint64(11), c.Next())
}

func TestClock_ConcurrentObserve(t *testing.T) {
	c := NewClock()
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			c.Observe(v)
		}(uint64(i))
	}
	wg.Wait()
	assert.Equal(t, uint64(100), c.Current())
}
