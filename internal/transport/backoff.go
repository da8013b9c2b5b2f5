package transport

import "time"

const (
	// DefaultMaxBackoff caps the reconnect delay.
	DefaultMaxBackoff = 2500 * time.Millisecond

	baseBackoff = 100 * time.Millisecond

	// messageReconnectTimeout closes a socket that stayed silent this long.
	messageReconnectTimeout = 30 * time.Second
)

// BackoffDelay is the wait before reconnecting after failures consecutive
// attempts that never reached the connected state.
func BackoffDelay(failures int, max time.Duration) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= 32 {
		return max
	}
	return min(baseBackoff<<failures, max)
}
