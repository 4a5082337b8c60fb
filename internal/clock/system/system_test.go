package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowIsUTCAndCurrent(t *testing.T) {
	t.Parallel()

	clk := New()
	require.NotNil(t, clk)

	got := clk.Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestNowNeverGoesBackwards(t *testing.T) {
	t.Parallel()

	clk := New()
	prev := clk.Now()
	for range 100 {
		next := clk.Now()
		require.False(t, next.Before(prev), "clock went from %v to %v", prev, next)
		prev = next
	}
}
