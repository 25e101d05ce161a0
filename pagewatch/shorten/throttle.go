package shorten

import (
	"sync"
	"time"
)

// Throttle coalesces bursts of calls into one trailing invocation of fn.
// The first call in a quiet period schedules fn after window; calls
// arriving while an invocation is pending are absorbed into it. Unlike a
// pure debounce this bounds latency under a continuous mutation stream.
func Throttle(window time.Duration, fn func()) func() {
	var mu sync.Mutex
	pending := false

	return func() {
		mu.Lock()
		if pending {
			mu.Unlock()
			return
		}
		pending = true
		mu.Unlock()

		time.AfterFunc(window, func() {
			mu.Lock()
			pending = false
			mu.Unlock()
			fn()
		})
	}
}
