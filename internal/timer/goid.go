package timer

import "runtime"

// goroutineID parses the current goroutine id from the stack header
// ("goroutine NNN ["). Only used to detect Stop/Start calls made from a
// callback running on the worker.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
