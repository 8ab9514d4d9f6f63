package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_DropsOldest(t *testing.T) {
	rc := NewRingChannel[int](3)
	for i := 0; i < 5; i++ {
		rc.Send(i)
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got, "only the newest values MUST survive")
	assert.Equal(t, Metrics{Written: 5, Overwritten: 2}, rc.GetMetrics())
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := NewRingChannel[string](1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() { rc.Send("late") }, "Send after Close MUST NOT panic")
	assert.Equal(t, 0, rc.Len())
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := NewRingChannel[int](8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	m := rc.GetMetrics()
	require.Equal(t, int64(400), m.Written)
	assert.Equal(t, 8, rc.Len())
	assert.Equal(t, int64(392), m.Overwritten)
}

func TestNewRingChannel_InvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
}
