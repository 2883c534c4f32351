package marketplace

import "time"

// backoffDelay returns the wait before retry number `retry` (1-based),
// base * 2^(retry-1).
func backoffDelay(base time.Duration, retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return base << (retry - 1)
}
