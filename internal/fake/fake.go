// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fake provides recording clock, regulator, load, and tick providers
// for tests of the bus frequency engine.
package fake

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/platinasystems/busfreq/internal/topology"
)

var ErrInjected = errors.New("injected failure")

// Recorder logs every provider call as a line of text, e.g.
//
//	enable fout_spll
//	parent aclk_200_fsys_sw aclk_200_fsys_dout
//	rate aclk_200_fsys_dout 200000000
//	volt 987500 993750
//
// A call whose line starts with a registered prefix fails with ErrInjected.
type Recorder struct {
	mutex    sync.Mutex
	calls    []string
	fail     []string
	missing  map[topology.Clock]bool
	acquired []topology.Clock
	released []topology.Clock
	parents  map[topology.Clock]topology.Clock
	rates    map[topology.Clock]uint64
	enabled  map[topology.Clock]bool

	VoltUV uint32
	Busy   uint64
	Total  uint64
}

func New() *Recorder {
	return &Recorder{
		missing: make(map[topology.Clock]bool),
		parents: make(map[topology.Clock]topology.Clock),
		rates:   make(map[topology.Clock]uint64),
		enabled: make(map[topology.Clock]bool),
	}
}

// FailOn makes calls matching the line prefix fail.
func (r *Recorder) FailOn(prefix string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.fail = append(r.fail, prefix)
}

// Heal forgets the FailOn prefixes.
func (r *Recorder) Heal() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.fail = nil
}

// Missing makes Acquire of the given clock fail.
func (r *Recorder) Missing(c topology.Clock) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.missing[c] = true
}

// Calls returns the recorded lines.
func (r *Recorder) Calls() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.calls...)
}

// Reset forgets the recorded lines.
func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = r.calls[:0]
}

func (r *Recorder) Acquired() []topology.Clock {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]topology.Clock(nil), r.acquired...)
}

func (r *Recorder) Released() []topology.Clock {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]topology.Clock(nil), r.released...)
}

func (r *Recorder) Parent(c topology.Clock) topology.Clock {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.parents[c]
}

func (r *Recorder) Rate(c topology.Clock) uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.rates[c]
}

func (r *Recorder) IsEnabled(c topology.Clock) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.enabled[c]
}

func (r *Recorder) call(format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...)
	r.calls = append(r.calls, line)
	for _, prefix := range r.fail {
		if strings.HasPrefix(line, prefix) {
			return fmt.Errorf("%s: %w", line, ErrInjected)
		}
	}
	return nil
}

func (r *Recorder) Acquire(c topology.Clock) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.missing[c] {
		return fmt.Errorf("%s: %w", c, ErrInjected)
	}
	r.acquired = append(r.acquired, c)
	return nil
}

func (r *Recorder) Release(c topology.Clock) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.released = append(r.released, c)
}

func (r *Recorder) Enable(c topology.Clock) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	err := r.call("enable %s", c)
	if err == nil {
		r.enabled[c] = true
	}
	return err
}

func (r *Recorder) Disable(c topology.Clock) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	err := r.call("disable %s", c)
	if err == nil {
		r.enabled[c] = false
	}
	return err
}

func (r *Recorder) SetParent(child, parent topology.Clock) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	err := r.call("parent %s %s", child, parent)
	if err == nil {
		r.parents[child] = parent
	}
	return err
}

func (r *Recorder) SetRate(c topology.Clock, hz uint64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	err := r.call("rate %s %d", c, hz)
	if err == nil {
		r.rates[c] = hz
	}
	return err
}

func (r *Recorder) SetVoltage(minUV, maxUV uint32) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	err := r.call("volt %d %d", minUV, maxUV)
	if err == nil {
		r.VoltUV = minUV
	}
	return err
}

// Voltage isn't recorded as a call; it reads back the last set voltage and
// fails only if FailOn("voltage").
func (r *Recorder) Voltage() (uint32, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, prefix := range r.fail {
		if prefix == "voltage" {
			return 0, ErrInjected
		}
	}
	return r.VoltUV, nil
}

func (r *Recorder) Counters() (busy, total uint64, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.Busy, r.Total, nil
}

// Ticks is a manually advanced residency clock.
type Ticks struct {
	mutex sync.Mutex
	now   uint64
}

func (t *Ticks) Ticks() uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.now
}

func (t *Ticks) Advance(n uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.now += n
}
