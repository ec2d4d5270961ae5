package channel

import "time"

// maxShift bounds the exponent so the delay cannot overflow.
const maxShift = 30

// BackoffDelay is the wait before reconnect attempt n (1-based):
// base * 2^(n-1). Attempts below 1 are treated as 1.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	return base * time.Duration(1<<uint(shift))
}
