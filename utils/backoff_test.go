package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffNext(t *testing.T) {
	b := Backoff{Initial: time.Second, Multiplier: 2, Max: 10 * time.Second}
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, 2*time.Second, b.Next(2))
	assert.Equal(t, 4*time.Second, b.Next(3))
	assert.Equal(t, 8*time.Second, b.Next(4))
	// capped
	assert.Equal(t, 10*time.Second, b.Next(5))
	assert.Equal(t, 10*time.Second, b.Next(20))
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, time.Second, b.Next(1))
	assert.Equal(t, time.Second, b.Next(5))
	assert.Equal(t, time.Second, b.Next(0))

	// multipliers below 1 never shrink the delay
	b = Backoff{Initial: time.Second, Multiplier: 0.5}
	assert.Equal(t, time.Second, b.Next(3))

	// no cap configured
	b = Backoff{Initial: time.Second, Multiplier: 3}
	assert.Equal(t, 9*time.Second, b.Next(3))
}
