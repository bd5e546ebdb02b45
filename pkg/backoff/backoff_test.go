package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, time.Second, p.Delay(50))
}

func TestPolicy_DelayDefaults(t *testing.T) {
	var p Policy

	assert.Equal(t, defaultBase, p.Delay(1))
	assert.Equal(t, defaultBase, p.Delay(4), "max defaults to base")
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := Policy{Base: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2, Jitter: true}

	for range 100 {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestSleep(t *testing.T) {
	t.Run("returns after duration", func(t *testing.T) {
		require.NoError(t, Sleep(context.Background(), time.Millisecond))
	})

	t.Run("cancelled context interrupts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Sleep(ctx, time.Hour)
		require.ErrorIs(t, err, context.Canceled)
	})
}
