package auth

import "github.com/authgate/apiserver/types"

// Clock supplies the current time. Tests pin it; production uses types.Now.
type Clock func() types.Instant

func (c Clock) now() types.Instant {
	if c == nil {
		return types.Now()
	}
	return c()
}

// FixedClock returns a Clock that always reports at.
func FixedClock(at types.Instant) Clock {
	return func() types.Instant { return at }
}
