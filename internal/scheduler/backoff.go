package scheduler

import "time"

// ExponentialBackoff doubles the retry delay per consecutive failure, starting
// at Base and never exceeding Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

const defaultBackoffMax = 24 * time.Hour

// Next returns when the next attempt is due after the given failure count.
func (b ExponentialBackoff) Next(failures int, now time.Time) time.Time {
	delay, ceiling := b.Base, b.Max
	if delay <= 0 {
		delay = time.Minute
	}
	if ceiling <= 0 {
		ceiling = defaultBackoffMax
	}
	for i := 1; i < failures && delay < ceiling; i++ {
		delay *= 2
	}
	return now.Add(min(delay, ceiling))
}
