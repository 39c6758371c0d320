package gateway

import "time"

// Reconnect delay policy: start at the floor, grow by the factor on every
// failed or closed cycle, never exceed the cap. Reset on successful
// handshake.
const (
	defaultBackoffFloor  = time.Second
	defaultBackoffCap    = 30 * time.Second
	defaultBackoffFactor = 1.5
)

type backoff struct {
	floor   time.Duration
	cap     time.Duration
	factor  float64
	current time.Duration
}

func newBackoff(floor, cap time.Duration, factor float64) *backoff {
	if floor <= 0 {
		floor = defaultBackoffFloor
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	if factor <= 1 {
		factor = defaultBackoffFactor
	}
	return &backoff{floor: floor, cap: cap, factor: factor, current: floor}
}

// next returns the delay to use for the upcoming attempt and grows the
// delay for the one after.
func (b *backoff) next() time.Duration {
	d := b.current
	grown := time.Duration(float64(b.current) * b.factor)
	if grown > b.cap {
		grown = b.cap
	}
	b.current = grown
	return d
}

// reset drops the delay back to its floor.
func (b *backoff) reset() {
	b.current = b.floor
}
