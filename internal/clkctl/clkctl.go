// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package clkctl drives a clock tree exported as a directory per clock,
//
//	DIR/CLOCK/enable	1|0
//	DIR/CLOCK/parent	PARENT
//	DIR/CLOCK/rate		HZ
package clkctl

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/platinasystems/busfreq/internal/topology"
	"github.com/platinasystems/log"
)

type Dir struct {
	mutex sync.Mutex
	path  string
	held  map[topology.Clock]bool
}

func New(path string) *Dir {
	return &Dir{
		path: path,
		held: make(map[topology.Clock]bool),
	}
}

func (d *Dir) fn(c topology.Clock, attr string) string {
	return filepath.Join(d.path, string(c), attr)
}

// Acquire fails if the clock isn't exported.
func (d *Dir) Acquire(c topology.Clock) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	fi, err := os.Stat(filepath.Join(d.path, string(c)))
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: not a clock", c)
	}
	d.held[c] = true
	return nil
}

func (d *Dir) Release(c topology.Clock) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.held, c)
}

func (d *Dir) write(c topology.Clock, attr, s string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.held[c] {
		return fmt.Errorf("%s: not acquired", c)
	}
	return ioutil.WriteFile(d.fn(c, attr), []byte(s+"\n"), 0644)
}

func (d *Dir) read(c topology.Clock, attr string) (string, error) {
	b, err := ioutil.ReadFile(d.fn(c, attr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (d *Dir) Enable(c topology.Clock) error  { return d.write(c, "enable", "1") }
func (d *Dir) Disable(c topology.Clock) error { return d.write(c, "enable", "0") }

func (d *Dir) SetParent(child, parent topology.Clock) error {
	return d.write(child, "parent", string(parent))
}

func (d *Dir) SetRate(c topology.Clock, hz uint64) error {
	return d.write(c, "rate", strconv.FormatUint(hz, 10))
}

// Parent reads back the clock's parent.
func (d *Dir) Parent(c topology.Clock) (topology.Clock, error) {
	s, err := d.read(c, "parent")
	return topology.Clock(s), err
}

// Rate reads back the clock's rate.
func (d *Dir) Rate(c topology.Clock) (uint64, error) {
	s, err := d.read(c, "rate")
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, 10, 64)
}

// DryRun logs each call rather than changing the clock tree.
type DryRun struct{}

func (DryRun) Enable(c topology.Clock) error {
	log.Print("daemon", "info", "enable ", c)
	return nil
}

func (DryRun) Disable(c topology.Clock) error {
	log.Print("daemon", "info", "disable ", c)
	return nil
}

func (DryRun) SetParent(child, parent topology.Clock) error {
	log.Print("daemon", "info", "parent ", child, " ", parent)
	return nil
}

func (DryRun) SetRate(c topology.Clock, hz uint64) error {
	log.Print("daemon", "info", "rate ", c, " ", hz)
	return nil
}
