// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package engine

import (
	"bytes"
	"fmt"

	"github.com/platinasystems/busfreq/internal/opp"
)

// Snapshot is an immutable copy of the committed engine state.
//
// Fast and Isolated report the auxiliary sources as the hardware has them.
// A level within a band always has that band's source on, but a failed
// transition may leave the source for the target band on beside the older
// Level until the next transition to another level parks it.
type Snapshot struct {
	Seq      uint64
	Level    opp.Level
	FreqKHz  uint32
	VoltUV   uint32
	OffsetUV int32
	Fast     bool
	Isolated bool
}

func (s Snapshot) Cold() bool { return s.OffsetUV != 0 }

type Status struct {
	FrequencyHz uint64
	VoltageUV   uint32
	Busy        uint64
	Total       uint64
}

// publish must be called with the engine lock held.
func (e *Engine) publish() Snapshot {
	e.live.seq++
	p, _ := e.points.Point(e.live.level)
	s := Snapshot{
		Seq:      e.live.seq,
		Level:    e.live.level,
		FreqKHz:  p.FreqKHz,
		VoltUV:   e.live.voltUV,
		OffsetUV: e.live.offsetUV,
		Fast:     e.live.fast,
		Isolated: e.live.isolated,
	}
	e.snap.Store(s)
	return s
}

// Snapshot returns the last committed state.
func (e *Engine) Snapshot() Snapshot {
	return e.snap.Load().(Snapshot)
}

// Status returns the committed frequency and voltage with a sample of the
// load counters.
func (e *Engine) Status() (Status, error) {
	s := e.Snapshot()
	st := Status{
		FrequencyHz: uint64(s.FreqKHz) * 1000,
		VoltageUV:   s.VoltUV,
	}
	if e.load == nil {
		return st, nil
	}
	busy, total, err := e.load.Counters()
	if err != nil {
		return st, err
	}
	st.Busy, st.Total = busy, total
	return st, nil
}

func (e *Engine) ResidencyTable() []opp.Residency { return e.points.Residency() }

func (e *Engine) FrequencyTable() []uint32 { return e.points.Frequencies() }

func (e *Engine) VoltageTable() []opp.Voltage { return e.points.Voltages() }

// SetVoltage overrides the voltage of one available level. The new voltage
// applies from the next transition to that level.
func (e *Engine) SetVoltage(freqKHz, uV uint32) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.points.SetVoltage(freqKHz, uV)
}

// SetVoltageTable overrides the voltages of the available levels in table
// order.
func (e *Engine) SetVoltageTable(uVs []uint32) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.points.SetVoltages(uVs)
}

// FormatResidency lists "freq ticks" lines.
func FormatResidency(rs []opp.Residency) string {
	buf := new(bytes.Buffer)
	for _, r := range rs {
		fmt.Fprintf(buf, "%d %d\n", r.FreqKHz, r.Ticks)
	}
	return buf.String()
}

// FormatFrequencies lists frequencies separated by a space.
func FormatFrequencies(fs []uint32) string {
	buf := new(bytes.Buffer)
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprint(buf, f)
	}
	return buf.String()
}

// FormatVoltages lists "freq uV" lines.
func FormatVoltages(vs []opp.Voltage) string {
	buf := new(bytes.Buffer)
	for _, v := range vs {
		fmt.Fprintf(buf, "%d %d\n", v.FreqKHz, v.VoltUV)
	}
	return buf.String()
}
