package utils

import (
	"math"
	"time"
)

// CalculateBackoff returns initialDelay × factor^attempt, capped at maxDelay.
// Attempts count from zero.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(initialDelay) * math.Pow(factor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
