package utils

import (
	"math"
	"time"
)

// Backoff computes capped multiplicative retry delays.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Next returns the delay before the given re-attempt. attempt is the
// number of failures so far, 1-based: min(Initial*Multiplier^(attempt-1), Max).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(initial) * math.Pow(mult, float64(attempt-1)))
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
