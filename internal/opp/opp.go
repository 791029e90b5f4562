// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package opp provides the ordered table of bus operating points, each a
// frequency and voltage pair with a cumulative residency counter.
package opp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/platinasystems/log"
)

const (
	VoltStepUV = 6250
	MinVoltUV  = 600000
	MaxVoltUV  = 1300000
)

var (
	ErrEmpty    = errors.New("no operating points")
	ErrNotFound = errors.New("operating point not found")
	ErrNoFloor  = errors.New("no operating point at or below frequency")
)

// Level is the position of an operating point in its table.
type Level int

type Point struct {
	Level     Level
	FreqKHz   uint32
	VoltUV    uint32
	Residency uint64
	Available bool
}

type Residency struct {
	FreqKHz uint32
	Ticks   uint64
}

type Voltage struct {
	FreqKHz uint32
	VoltUV  uint32
}

type Table struct {
	mutex  sync.Mutex
	points []Point
}

// New returns a table of the given points. A point's Level must match its
// position and no two points may share a frequency.
func New(points ...Point) (*Table, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}
	seen := make(map[uint32]Level)
	for i, p := range points {
		if p.Level != Level(i) {
			return nil, fmt.Errorf("point %d: level %d out of order",
				i, p.Level)
		}
		if l, found := seen[p.FreqKHz]; found {
			return nil, fmt.Errorf("point %d: %d kHz duplicates level %d",
				i, p.FreqKHz, l)
		}
		seen[p.FreqKHz] = p.Level
	}
	t := &Table{points: make([]Point, len(points))}
	copy(t.points, points)
	return t, nil
}

func (t *Table) Len() int { return len(t.points) }

// Exact returns the level of the available point at freqKHz.
func (t *Table) Exact(freqKHz uint32) (Level, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, p := range t.points {
		if p.Available && p.FreqKHz == freqKHz {
			return p.Level, nil
		}
	}
	return 0, fmt.Errorf("%d kHz: %w", freqKHz, ErrNotFound)
}

// Floor returns the level of the fastest available point that doesn't
// exceed freqKHz.
func (t *Table) Floor(freqKHz uint32) (Level, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	var avail, ok bool
	var best Point
	for _, p := range t.points {
		if !p.Available {
			continue
		}
		avail = true
		if p.FreqKHz <= freqKHz && (!ok || p.FreqKHz > best.FreqKHz) {
			best, ok = p, true
		}
	}
	if !avail {
		return 0, ErrEmpty
	}
	if !ok {
		return 0, fmt.Errorf("%d kHz: %w", freqKHz, ErrNoFloor)
	}
	return best.Level, nil
}

// Point returns a copy of the point at the given level.
func (t *Table) Point(l Level) (Point, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if l < 0 || int(l) >= len(t.points) {
		return Point{}, false
	}
	return t.points[l], true
}

// Charge adds ticks to the residency of the given level.
func (t *Table) Charge(l Level, ticks uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if l >= 0 && int(l) < len(t.points) {
		t.points[l].Residency += ticks
	}
}

// Disable removes a level from lookups and listings of available points.
func (t *Table) Disable(l Level) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if l >= 0 && int(l) < len(t.points) {
		t.points[l].Available = false
	}
}

// Calibrate replaces the voltage of each point listed by frequency.
// Frequencies absent from the map keep their table voltage.
func (t *Table) Calibrate(byFreq map[uint32]uint32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for i := range t.points {
		p := &t.points[i]
		if uV, found := byFreq[p.FreqKHz]; found && uV != 0 {
			p.VoltUV = uV
		}
		log.Printf("daemon", "info", "INT %dKhz ASV is %duV",
			p.FreqKHz, p.VoltUV)
	}
}

// Residency lists every point's frequency and ticks in table order.
func (t *Table) Residency() []Residency {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	r := make([]Residency, 0, len(t.points))
	for _, p := range t.points {
		r = append(r, Residency{p.FreqKHz, p.Residency})
	}
	return r
}

// Frequencies lists the available frequencies in table order.
func (t *Table) Frequencies() []uint32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	f := make([]uint32, 0, len(t.points))
	for _, p := range t.points {
		if p.Available {
			f = append(f, p.FreqKHz)
		}
	}
	return f
}

// Voltages lists the available points' voltages in table order.
func (t *Table) Voltages() []Voltage {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	v := make([]Voltage, 0, len(t.points))
	for _, p := range t.points {
		if p.Available {
			v = append(v, Voltage{p.FreqKHz, p.VoltUV})
		}
	}
	return v
}

// SetVoltage stores the quantized voltage of the available point at freqKHz.
func (t *Table) SetVoltage(freqKHz, uV uint32) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for i := range t.points {
		p := &t.points[i]
		if p.Available && p.FreqKHz == freqKHz {
			p.VoltUV = Quantize(uV)
			return nil
		}
	}
	return fmt.Errorf("%d kHz: %w", freqKHz, ErrNotFound)
}

// SetVoltages stores quantized voltages to the available points in table
// order. Points beyond the given values are unchanged.
func (t *Table) SetVoltages(uVs []uint32) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	n := 0
	for _, p := range t.points {
		if p.Available {
			n++
		}
	}
	if len(uVs) > n {
		return fmt.Errorf("%d voltages for %d levels", len(uVs), n)
	}
	i := 0
	for j := range t.points {
		if i == len(uVs) {
			break
		}
		if p := &t.points[j]; p.Available {
			p.VoltUV = Quantize(uVs[i])
			i++
		}
	}
	return nil
}

// Quantize rounds uV up to the regulator step then bounds it to the
// regulator's range.
func Quantize(uV uint32) uint32 {
	v := uint64(uV)
	if rest := v % VoltStepUV; rest != 0 {
		v += VoltStepUV - rest
	}
	if v < MinVoltUV {
		v = MinVoltUV
	} else if v > MaxVoltUV {
		v = MaxVoltUV
	}
	return uint32(v)
}

func (p Point) String() string {
	return fmt.Sprintf("%d: %d kHz @ %d uV", p.Level, p.FreqKHz, p.VoltUV)
}
