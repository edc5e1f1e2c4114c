package allocator

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/forgelab/forge/internal/probe"
)

// ErrPortExhaustion is returned when no bindable port can be found inside the
// configured range after a bounded search. Callers must surface it; there is
// no degraded fallback.
var ErrPortExhaustion = errors.New("port range exhausted")

// randomAttempts bounds the sampling phase before falling back to a
// sequential sweep of the range.
const randomAttempts = 100

// Allocator hands out ports from an inclusive range, skipping a fixed set of
// reserved ports (the supervising tool's own listen ports). It keeps no state
// of its own; the caller supplies the set of already-assigned ports.
type Allocator struct {
	Low      int
	High     int
	Reserved map[int]struct{}
}

// New returns an Allocator for the inclusive range [low, high] with the given
// reserved ports excluded from allocation.
func New(low, high int, reserved ...int) Allocator {
	rs := make(map[int]struct{}, len(reserved))
	for _, p := range reserved {
		rs[p] = struct{}{}
	}
	return Allocator{Low: low, High: high, Reserved: rs}
}

func (a Allocator) validate() error {
	if a.Low <= 0 || a.High <= 0 || a.Low > a.High {
		return fmt.Errorf("invalid port range %d-%d", a.Low, a.High)
	}
	return nil
}

func (a Allocator) blocked(port int, excluded map[int]struct{}) bool {
	if _, ok := a.Reserved[port]; ok {
		return true
	}
	_, ok := excluded[port]
	return ok
}

// Pick returns one available port from the range that is neither reserved nor
// in excluded. It samples randomly first, then sweeps the range in order so a
// nearly-full range is still covered deterministically.
func (a Allocator) Pick(excluded map[int]struct{}) (int, error) {
	if err := a.validate(); err != nil {
		return 0, err
	}
	span := a.High - a.Low + 1
	for i := 0; i < randomAttempts; i++ {
		candidate := a.Low + rand.Intn(span)
		if a.blocked(candidate, excluded) {
			continue
		}
		if probe.Bindable(candidate) {
			return candidate, nil
		}
	}
	for candidate := a.Low; candidate <= a.High; candidate++ {
		if a.blocked(candidate, excluded) {
			continue
		}
		if probe.Bindable(candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in %d-%d", ErrPortExhaustion, a.Low, a.High)
}

// Pair returns two distinct available ports. The first pick is added to the
// exclusion set before the second, so the pair never collides.
func (a Allocator) Pair(excluded map[int]struct{}) (int, int, error) {
	first, err := a.Pick(excluded)
	if err != nil {
		return 0, 0, err
	}
	more := make(map[int]struct{}, len(excluded)+1)
	for p := range excluded {
		more[p] = struct{}{}
	}
	more[first] = struct{}{}
	second, err := a.Pick(more)
	if err != nil {
		return 0, 0, err
	}
	return first, second, nil
}

// InRange reports whether port lies inside the allocatable range.
func (a Allocator) InRange(port int) bool {
	return port >= a.Low && port <= a.High
}

// Usable reports whether a caller-requested port may be kept: in range, not
// reserved, and not already excluded.
func (a Allocator) Usable(port int, excluded map[int]struct{}) bool {
	return port > 0 && a.InRange(port) && !a.blocked(port, excluded)
}
