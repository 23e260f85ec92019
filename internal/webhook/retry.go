package webhook

import "time"

// MaxRetries bounds the retry chain of a single delivery.
const MaxRetries = 5

// DisableThreshold is the consecutive-failure count at which the webhook
// itself is taken out of service.
const DisableThreshold = 10

var retryDelays = []time.Duration{
	0,
	1 * time.Second,
	5 * time.Second,
	30 * time.Second,
	300 * time.Second,
	1800 * time.Second,
}

// RetryDelay returns the wait before attempt n+1. Values past the table are
// clamped to the last entry.
func RetryDelay(n int) time.Duration {
	if n < 0 {
		return 0
	}
	if n >= len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[n]
}

// ShouldRetry decides whether a failed delivery gets another attempt.
// httpStatus 0 means the request never completed (DNS, connect, timeout).
// Client errors are terminal except 429.
func ShouldRetry(retryCount, httpStatus int) bool {
	if httpStatus >= 400 && httpStatus < 500 && httpStatus != 429 {
		return false
	}
	return retryCount < MaxRetries
}
