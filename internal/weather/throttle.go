package weather

import "time"

// ShouldFetch reports whether a provider fetch is due. It is true when no
// attempt has been recorded yet or minInterval has elapsed since lastAttempt.
// A minInterval of zero always fetches; that removes the provider rate-limit
// protection and is not recommended outside tests.
func ShouldFetch(now time.Time, minInterval time.Duration, lastAttempt time.Time) bool {
	if lastAttempt.IsZero() || minInterval <= 0 {
		return true
	}
	return now.Sub(lastAttempt) >= minInterval
}

// RetryAfter returns how long a caller must wait before the next fetch is
// allowed, rounded up to whole seconds with a floor of one second. It is zero
// when a fetch is due.
func RetryAfter(now time.Time, minInterval time.Duration, lastAttempt time.Time) time.Duration {
	if ShouldFetch(now, minInterval, lastAttempt) {
		return 0
	}
	remaining := minInterval - now.Sub(lastAttempt)
	secs := (remaining + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
