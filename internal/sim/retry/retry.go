// Package retry holds the bounded "try N times, then accept a safe default"
// loop shared by the shape generators and the trial composer.
package retry

// Attempt calls try up to n times (at least once) and returns the first
// accepted value with ok=true. When every attempt is rejected it returns
// fallback() with ok=false; a nil fallback returns the last rejected value.
func Attempt[T any](n int, try func(i int) (T, bool), fallback func() T) (v T, ok bool) {
	if n < 1 {
		n = 1
	}
	var last T
	for i := 0; i < n; i++ {
		cand, accepted := try(i)
		if accepted {
			return cand, true
		}
		last = cand
	}
	if fallback == nil {
		return last, false
	}
	return fallback(), false
}
