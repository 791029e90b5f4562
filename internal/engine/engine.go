// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package engine sequences the bus regulator and clock domains from one
// operating point to another.
//
// Requests and thermal edges are serialized by the engine lock; status
// readers load the last committed Snapshot and never take the lock.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/platinasystems/busfreq/internal/opp"
	"github.com/platinasystems/busfreq/internal/residency"
	"github.com/platinasystems/busfreq/internal/topology"
	"github.com/platinasystems/log"
)

// State is the request phase.
type State int32

const (
	Idle State = iota
	Resolving
	Sequencing
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Sequencing:
		return "sequencing"
	case Committing:
		return "committing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Hooks are called under the engine lock after the named event is handled.
type Hooks struct {
	ThermalEdge func(cold bool, err error)
	Shutdown    func(err error)
	Commit      func(Snapshot)
}

// live is the engine state guarded by the engine lock. The aux flags follow
// the hardware, so they may lead the published snapshot after a failed
// transition.
type live struct {
	level    opp.Level
	voltUV   uint32
	fast     bool
	isolated bool
	offsetUV int32
	seq      uint64
}

type Engine struct {
	mutex    sync.Mutex
	cfg      Config
	points   *opp.Table
	topo     *topology.Topology
	clk      topology.Provider
	reg      Regulator
	load     LoadMonitor
	acct     *residency.Accountant
	acquired []topology.Clock
	bootKHz  uint32
	hooks    Hooks
	closed   bool
	live     live

	state int32
	snap  atomic.Value
}

// New acquires the clock handles, resolves the initial level, and publishes
// the first snapshot. On failure every acquired handle is released in
// reverse order.
func New(cfg Config, res Resources) (*Engine, error) {
	switch {
	case res.Points == nil:
		return nil, fail(InitializationFailure,
			errors.New("no operating points"))
	case res.Topology == nil:
		return nil, fail(InitializationFailure,
			errors.New("no clock topology"))
	case res.Clocks == nil:
		return nil, fail(InitializationFailure,
			errors.New("no clock provider"))
	case res.Regulator == nil:
		return nil, fail(InitializationFailure,
			errors.New("no regulator"))
	}
	for _, f := range res.Points.Frequencies() {
		l, _ := res.Points.Exact(f)
		if int(l) >= res.Topology.Levels() {
			return nil, fail(InitializationFailure,
				fmt.Errorf("%d kHz: no domain settings", f))
		}
	}
	e := &Engine{
		cfg:    cfg,
		points: res.Points,
		topo:   res.Topology,
		clk:    res.Clocks,
		reg:    res.Regulator,
		load:   res.Load,
	}
	if err := e.acquire(); err != nil {
		return nil, fail(InitializationFailure, err)
	}
	err := e.init(res.Clock)
	if err != nil {
		e.release()
		return nil, fail(InitializationFailure, err)
	}
	log.Printf("daemon", "info", "INT %d kHz @ %d uV", e.bootKHz,
		e.live.voltUV)
	return e, nil
}

func (e *Engine) clocks() []topology.Clock {
	clocks := e.topo.Clocks()
	seen := make(map[topology.Clock]bool, len(clocks))
	for _, c := range clocks {
		seen[c] = true
	}
	for _, c := range []topology.Clock{
		e.cfg.Fast.Clock,
		e.cfg.Isolated.Clock,
		e.cfg.Isolated.Feed,
		e.cfg.Isolated.Quiescent,
	} {
		if len(c) > 0 && !seen[c] {
			seen[c] = true
			clocks = append(clocks, c)
		}
	}
	return clocks
}

func (e *Engine) acquire() error {
	acq, ok := e.clk.(topology.Acquirer)
	if !ok {
		return nil
	}
	for _, c := range e.clocks() {
		if err := acq.Acquire(c); err != nil {
			e.release()
			return fmt.Errorf("acquire %s: %w", c, err)
		}
		e.acquired = append(e.acquired, c)
	}
	return nil
}

func (e *Engine) release() {
	acq, ok := e.clk.(topology.Acquirer)
	if !ok {
		return
	}
	for i := len(e.acquired) - 1; i >= 0; i-- {
		acq.Release(e.acquired[i])
	}
	e.acquired = nil
}

func (e *Engine) init(clock residency.Clock) error {
	l, err := e.points.Floor(e.cfg.InitialFreqKHz)
	if err != nil {
		return err
	}
	p, _ := e.points.Point(l)
	uV, err := e.reg.Voltage()
	if err != nil {
		return fmt.Errorf("regulator: %w", err)
	}
	e.live.level = l
	e.live.voltUV = uV
	e.bootKHz = p.FreqKHz
	if err = e.gateOn(l); err != nil {
		return err
	}
	if clock == nil {
		clock = residency.NewJiffies()
	}
	e.acct = residency.New(clock, e.points)
	e.publish()
	return nil
}

// SetHooks replaces the event hooks.
func (e *Engine) SetHooks(h Hooks) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.hooks = h
}

// State returns the phase of the request in progress, if any.
func (e *Engine) State() State {
	return State(atomic.LoadInt32(&e.state))
}

func (e *Engine) enter(s State) {
	atomic.StoreInt32(&e.state, int32(s))
}

// RequestFrequency moves the bus to the available operating point at freqKHz.
func (e *Engine) RequestFrequency(freqKHz uint32) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.request(freqKHz)
}

func (e *Engine) request(freqKHz uint32) error {
	defer e.enter(Idle)
	e.enter(Resolving)
	target, err := e.points.Exact(freqKHz)
	if err != nil {
		return fail(InvalidOperatingPoint, err)
	}
	prev := e.live.level
	e.acct.Charge(prev)
	pp, _ := e.points.Point(prev)
	tp, _ := e.points.Point(target)
	if tp.FreqKHz == pp.FreqKHz {
		e.enter(Committing)
		return nil
	}
	uV := e.cfg.Limits.Clamp(tp.VoltUV, e.live.offsetUV)
	rising := tp.FreqKHz > pp.FreqKHz

	e.enter(Sequencing)
	if err = e.gateOn(target); err != nil {
		return e.failed(pp, tp, err)
	}
	if rising {
		if err = e.setVoltage(uV); err != nil {
			return e.failed(pp, tp, err)
		}
	}
	if err = e.topo.Apply(e.clk, prev, target, rising); err != nil {
		return e.failed(pp, tp, fail(ClockProviderFailure, err))
	}
	if !rising {
		if err = e.setVoltage(uV); err != nil {
			return e.failed(pp, tp, err)
		}
	}
	if err = e.gateOff(target); err != nil {
		return e.failed(pp, tp, err)
	}

	e.enter(Committing)
	e.live.level = target
	e.live.voltUV = uV
	s := e.publish()
	log.Printf("daemon", "debug", "old:%7d new:%7d (INT)",
		pp.FreqKHz, tp.FreqKHz)
	if e.hooks.Commit != nil {
		e.hooks.Commit(s)
	}
	return nil
}

func (e *Engine) failed(from, to opp.Point, err error) error {
	log.Print("daemon", "err", from.FreqKHz, " to ", to.FreqKHz, " kHz: ",
		err)
	return err
}

// gateOn readies the auxiliary sources the level requires.
func (e *Engine) gateOn(l opp.Level) error {
	fast, iso := &e.cfg.Fast, &e.cfg.Isolated
	if len(fast.Clock) > 0 && fast.Band.In(l) && !e.live.fast {
		if err := e.clk.Enable(fast.Clock); err != nil {
			return fail(ClockProviderFailure,
				fmt.Errorf("enable %s: %w", fast.Clock, err))
		}
		e.live.fast = true
	}
	if len(iso.Clock) > 0 && iso.Band.In(l) && !e.live.isolated {
		if err := e.clk.SetParent(iso.Clock, iso.Feed); err != nil {
			return fail(ClockProviderFailure,
				fmt.Errorf("set parent %s %s: %w",
					iso.Clock, iso.Feed, err))
		}
		e.live.isolated = true
	}
	return nil
}

// gateOff parks the auxiliary sources the level doesn't require.
func (e *Engine) gateOff(l opp.Level) error {
	fast, iso := &e.cfg.Fast, &e.cfg.Isolated
	if len(fast.Clock) > 0 && !fast.Band.In(l) && e.live.fast {
		if err := e.clk.Disable(fast.Clock); err != nil {
			return fail(ClockProviderFailure,
				fmt.Errorf("disable %s: %w", fast.Clock, err))
		}
		e.live.fast = false
	}
	if len(iso.Clock) > 0 && !iso.Band.In(l) && e.live.isolated {
		if err := e.clk.SetParent(iso.Clock, iso.Quiescent); err != nil {
			return fail(ClockProviderFailure,
				fmt.Errorf("set parent %s %s: %w",
					iso.Clock, iso.Quiescent, err))
		}
		e.live.isolated = false
	}
	return nil
}

func (e *Engine) setVoltage(uV uint32) error {
	if err := e.reg.SetVoltage(uV, uV+e.cfg.MarginUV); err != nil {
		return fail(RegulatorFailure,
			fmt.Errorf("set voltage %d: %w", uV, err))
	}
	return nil
}

// ThermalEdge applies or removes the cold voltage offset.
func (e *Engine) ThermalEdge(cold bool) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return ErrClosed
	}
	err := e.thermalEdge(cold)
	if err != nil {
		log.Print("daemon", "err", "cold ", cold, ": ", err)
	}
	if e.hooks.ThermalEdge != nil {
		e.hooks.ThermalEdge(cold, err)
	}
	return err
}

func (e *Engine) thermalEdge(cold bool) error {
	var want int32
	if cold {
		want = e.cfg.ColdOffsetUV
	}
	if e.live.offsetUV == want {
		return nil
	}
	cur, err := e.reg.Voltage()
	if err != nil {
		return fail(RegulatorFailure, fmt.Errorf("voltage: %w", err))
	}
	var uV uint32
	if cold {
		uV = e.cfg.Limits.Clamp(cur, want)
	} else {
		base := int64(cur) - int64(e.live.offsetUV)
		if base < 0 {
			base = 0
		}
		uV = e.cfg.Limits.Clamp(uint32(base), 0)
	}
	if err = e.setVoltage(uV); err != nil {
		return err
	}
	e.live.offsetUV = want
	e.live.voltUV = uV
	e.publish()
	return nil
}

// Shutdown returns the bus to its boot level, releases the clock handles,
// and rejects later requests.
func (e *Engine) Shutdown() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return ErrClosed
	}
	err := e.request(e.bootKHz)
	e.release()
	e.closed = true
	if e.hooks.Shutdown != nil {
		e.hooks.Shutdown(err)
	}
	return err
}
