package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_InvalidCapacity(t *testing.T) {
	_, err := NewCircularBuffer[int](0)
	require.Error(t, err)

	_, err = NewCircularBuffer[int](-5)
	require.Error(t, err)
}

func TestCircularBuffer_FillWithoutOverflow(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 4, buf.Cap())

	buf.Push(1)
	buf.Push(2)
	buf.Push(3)

	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, []int{1, 2, 3}, buf.Items())
}

func TestCircularBuffer_OverwritesOldestWhenFull(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	// Push far more than capacity; the buffer must hold exactly the three
	// most recent values, oldest-first, and never grow.
	for i := 1; i <= 100; i++ {
		buf.Push(i)
	}

	assert.Equal(t, 3, buf.Len())
	assert.Equal(t, []int{98, 99, 100}, buf.Items())
}

func TestCircularBuffer_WrapAroundOrdering(t *testing.T) {
	buf, _ := NewCircularBuffer[string](3)

	buf.Push("a")
	buf.Push("b")
	buf.Push("c")
	buf.Push("d") // evicts "a"
	buf.Push("e") // evicts "b"

	assert.Equal(t, []string{"c", "d", "e"}, buf.Items())
}

func TestCircularBuffer_Drain(t *testing.T) {
	buf, _ := NewCircularBuffer[int](3)
	buf.Push(1)
	buf.Push(2)

	drained := buf.Drain()
	assert.Equal(t, []int{1, 2}, drained)
	assert.Equal(t, 0, buf.Len())

	// Reusable after drain.
	buf.Push(7)
	assert.Equal(t, []int{7}, buf.Items())
}

func TestAggregator_Rollup(t *testing.T) {
	agg := NewAggregator()

	agg.Add(Event{Domain: DomainLLM, Type: TypeUsage, Value: 100})
	agg.Add(Event{Domain: DomainLLM, Type: TypeUsage, Value: 50})
	agg.Add(Event{Domain: DomainTask, Type: TypeSuccess, Value: 1})

	assert.Equal(t, 150.0, agg.Sum(DomainLLM, TypeUsage))
	assert.Equal(t, int64(2), agg.Count(DomainLLM, TypeUsage))
	assert.Equal(t, 1.0, agg.Sum(DomainTask, TypeSuccess))
	assert.Equal(t, 0.0, agg.Sum(DomainAgent, TypeError))

	snap := agg.Snapshot()
	assert.Equal(t, 150.0, snap["LLM:USAGE"])

	agg.Reset()
	assert.Equal(t, 0.0, agg.Sum(DomainLLM, TypeUsage))
}
