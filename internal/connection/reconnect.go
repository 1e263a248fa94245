package connection

import "time"

// Backoff is the reconnection policy: a bounded number of attempts with a
// delay that grows linearly in the attempt number.
type Backoff struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect attempt n (0-based):
// BaseDelay × (n+1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return b.BaseDelay * time.Duration(attempt+1)
}

// Exhausted reports whether no further attempts are allowed.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// realScheduler schedules with the runtime timer.
type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// pendingReconnect is a scheduled reconnect for one identifier.
// The manager compares pointers to detect cancelled timers that already fired.
type pendingReconnect struct {
	timer   Timer
	attempt int
	delay   time.Duration
}
