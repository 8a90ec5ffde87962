package timesource

import (
	"time"

	"golang.org/x/sys/unix"
)

// TimeSource abstracts the two clocks the agent depends on so tests can
// substitute fixed values. All values are nanosecond offsets expressed as
// time.Duration: Time is measured from the Unix epoch, KernelTime from the
// kernel's monotonic clock origin.
type TimeSource interface {
	Time() time.Duration
	KernelTime() time.Duration
}

type realTimeSource struct{}

// New returns a TimeSource backed by the system clocks.
func New() TimeSource {
	return realTimeSource{}
}

func (realTimeSource) Time() time.Duration {
	return time.Duration(time.Now().UnixNano())
}

// KernelTime reads CLOCK_MONOTONIC directly. Kernel counters such as
// acpu_stats advance on this clock, so deltas against it must not include
// suspend time or wall-clock adjustments.
func (realTimeSource) KernelTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
