package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricBuffer_StatsOverWindow(t *testing.T) {
	b := newMetricBuffer()
	_, _, _, ok := b.stats()
	assert.False(t, ok)

	for _, v := range []float64{10, 20, 30} {
		b.add(v)
	}
	min, avg, max, ok := b.stats()
	assert.True(t, ok)
	assert.Equal(t, 10.0, min)
	assert.Equal(t, 20.0, avg)
	assert.Equal(t, 30.0, max)
}

func TestMetricBuffer_ResetClearsWindow(t *testing.T) {
	b := newMetricBuffer()
	b.add(5)
	b.reset()
	_, _, _, ok := b.stats()
	assert.False(t, ok)
}

func TestMetricBuffer_WrapsAtCapacity(t *testing.T) {
	b := newMetricBuffer()
	for i := 0; i < bufferCapacity+10; i++ {
		b.add(float64(i))
	}
	min, _, max, ok := b.stats()
	assert.True(t, ok)
	assert.Equal(t, float64(10), min)
	assert.Equal(t, float64(bufferCapacity+9), max)
}
