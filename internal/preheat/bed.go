// Package preheat holds a print at the start until the heated bed has
// absorbed enough heat.
package preheat

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MinimalTemp is the lowest bed target that needs heat absorption.
	MinimalTemp = 60.0
	// MinimalDiff is how close the bed must be to its target to count as
	// heated.
	MinimalDiff = 15.0

	baseTime = 180 * time.Second
	// perDegree is added for every degree above MinimalTemp.
	perDegree = 14 * time.Second

	messageInterval = time.Second
)

// Thermal reports bed temperatures in degrees Celsius.
type Thermal interface {
	BedTemp() float64
	BedTarget() float64
}

// Bed tracks heat absorption of the print bed.
type Bed struct {
	thermal Thermal
	now     func() time.Time

	mu           sync.Mutex
	heatingStart time.Time
	heating      bool
	canPreheat   bool
	preheated    bool

	waiting atomic.Bool
}

// New creates a Bed. now defaults to time.Now.
func New(thermal Thermal, now func() time.Time) *Bed {
	if now == nil {
		now = time.Now
	}
	return &Bed{thermal: thermal, now: now}
}

// RequiredTime returns how long the bed must hold its target temperature.
func RequiredTime(target float64) time.Duration {
	if target < MinimalTemp {
		return 0
	}
	d := baseTime + time.Duration((target-MinimalTemp)*float64(perDegree))
	if d < 0 {
		return 0
	}
	return d
}

// Update re-evaluates the bed against its target.
func (b *Bed) Update() {
	target := b.thermal.BedTarget()
	near := target != 0 && math.Abs(b.thermal.BedTemp()-target) < MinimalDiff
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if !near {
		b.heating = false
		b.canPreheat = false
		b.preheated = false
		return
	}
	if !b.heating {
		b.heating = true
		b.heatingStart = now
	}
	b.canPreheat = true
	if b.remainingLocked(target, now) == 0 {
		b.preheated = true
	}
}

// Remaining returns how much absorption time is left.
func (b *Bed) Remaining() time.Duration {
	target := b.thermal.BedTarget()
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked(target, now)
}

func (b *Bed) remainingLocked(target float64, now time.Time) time.Duration {
	required := RequiredTime(target)
	if required == 0 || !b.heating {
		return 0
	}
	left := required - now.Sub(b.heatingStart)
	if left < 0 {
		return 0
	}
	return left
}

// CanSkip reports whether a wait is possible and not yet done.
func (b *Bed) CanSkip() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canPreheat && !b.preheated
}

// Skip ends the current wait early.
func (b *Bed) Skip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.canPreheat {
		b.preheated = true
	}
}

// IsWaiting reports whether WaitForPreheat is running.
func (b *Bed) IsWaiting() bool { return b.waiting.Load() }

// WaitForPreheat blocks until the bed is preheated, the wait is skipped or
// the bed leaves its target window. idle is called on every iteration and
// must pace the loop; status receives a progress line once per second and
// an empty line when the wait ends.
func (b *Bed) WaitForPreheat(ctx context.Context, idle func(), status func(string)) error {
	if !b.waiting.CompareAndSwap(false, true) {
		return fmt.Errorf("preheat: already waiting")
	}
	defer b.waiting.Store(false)
	defer status("")

	var last time.Time
	for b.CanSkip() {
		if err := ctx.Err(); err != nil {
			return err
		}
		idle()
		b.Update()

		if now := b.now(); last.IsZero() || now.Sub(last) >= messageInterval {
			status(fmt.Sprintf("Absorbing heat (%ds)", int(b.Remaining()/time.Second)))
			last = now
		}
	}
	return nil
}
