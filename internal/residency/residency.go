// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package residency charges the time spent at each operating level.
package residency

import (
	"sync"
	"time"

	"github.com/platinasystems/busfreq/internal/opp"
)

// Tick is the residency unit.
const Tick = 10 * time.Millisecond

// Clock is a monotonic tick source.
type Clock interface {
	Ticks() uint64
}

// Charger accumulates ticks per level, e.g. an opp.Table.
type Charger interface {
	Charge(opp.Level, uint64)
}

// Jiffies counts Ticks since it was made. It reads the monotonic clock so
// wall clock steps don't skew residency.
type Jiffies struct {
	start time.Time
}

func NewJiffies() *Jiffies { return &Jiffies{start: time.Now()} }

func (j *Jiffies) Ticks() uint64 {
	return uint64(time.Since(j.start) / Tick)
}

type Accountant struct {
	mutex sync.Mutex
	clock Clock
	to    Charger
	last  uint64
}

// New starts accounting at the clock's present tick.
func New(clock Clock, to Charger) *Accountant {
	return &Accountant{
		clock: clock,
		to:    to,
		last:  clock.Ticks(),
	}
}

// Charge adds the ticks since the last charge to the given level and returns
// them.
func (a *Accountant) Charge(l opp.Level) uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	now := a.clock.Ticks()
	var n uint64
	if now > a.last {
		n = now - a.last
	}
	a.to.Charge(l, n)
	a.last = now
	return n
}

// Last returns the tick of the last charge.
func (a *Accountant) Last() uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.last
}
