package retry

import (
	"math"
	"time"
)

// Backoff computes the exponential backoff delay for attempt (0-indexed),
// base · 2^attempt, per §4.7 (default base 1s, shared by the 429 and 5xx
// classes).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}
