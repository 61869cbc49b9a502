// Package clock wraps jonboulle/clockwork so the chain store and syncer
// never call time.Now directly, keeping reorg/timestamp tests
// deterministic.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the subset of clockwork.Clock this module depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type realClock struct {
	clockwork.Clock
}

func (r realClock) Since(t time.Time) time.Duration {
	return r.Now().Sub(t)
}

// NewSystemClock returns a Clock backed by the real wall clock.
func NewSystemClock() Clock {
	return realClock{clockwork.NewRealClock()}
}

// Fake is a controllable Clock for tests, wrapping clockwork.FakeClock.
type Fake struct {
	clockwork.FakeClock
}

// NewFake returns a Fake clock set to a fixed instant.
func NewFake(t time.Time) *Fake {
	return &Fake{clockwork.NewFakeClockAt(t)}
}

// Since returns the duration elapsed since t according to the fake clock.
func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}
