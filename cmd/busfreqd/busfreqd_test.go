// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package busfreqd

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinasystems/busfreq/cmd"
	"github.com/platinasystems/busfreq/internal/board"
	"github.com/platinasystems/busfreq/internal/engine"
	"github.com/platinasystems/busfreq/internal/fake"
	"github.com/platinasystems/busfreq/internal/test"
	"github.com/platinasystems/busfreq/internal/topology"
	"github.com/platinasystems/redis/rpc/args"
	"github.com/platinasystems/redis/rpc/reply"
)

type lines []string

func (l *lines) Print(a ...interface{}) (int, error) {
	s := fmt.Sprint(a...)
	*l = append(*l, s)
	return len(s), nil
}

func (l *lines) has(s string) bool {
	for _, x := range *l {
		if x == s {
			return true
		}
	}
	return false
}

func newCommand(t *testing.T) (*Command, *lines, *fake.Recorder) {
	cfg := board.Default()
	setup, err := cfg.Setup()
	if err != nil {
		t.Fatal(err)
	}
	r := fake.New()
	r.VoltUV = 987500
	r.Busy, r.Total = 3, 9
	c := new(Command)
	c.eng, err = engine.New(setup.Engine, engine.Resources{
		Points:    setup.Points,
		Topology:  setup.Topology,
		Clocks:    r,
		Regulator: r,
		Load:      r,
		Clock:     &fake.Ticks{},
	})
	if err != nil {
		t.Fatal(err)
	}
	pub := &lines{}
	c.pub = pub
	c.lasts = make(map[string]string)
	c.eng.SetHooks(c.Info.hooks())
	return c, pub, r
}

func newInfo(t *testing.T) (*Info, *lines, *fake.Recorder) {
	c, pub, r := newCommand(t)
	return &c.Info, pub, r
}

// serve runs the tail of Main on the started command.
func serve(c *Command) <-chan struct{} {
	stop, err := c.start()
	if err != nil {
		panic(err)
	}
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		defer c.finish()
		c.loop(stop, time.Millisecond)
	}()
	return returned
}

func reversed(clocks []topology.Clock) []topology.Clock {
	rev := make([]topology.Clock, len(clocks))
	for i, c := range clocks {
		rev[len(clocks)-1-i] = c
	}
	return rev
}

func hset(i *Info, field, value string) (reply.Hset, error) {
	var r reply.Hset
	err := i.Hset(args.Hset{Field: field, Value: []byte(value)}, &r)
	return r, err
}

func TestHsetFrequency(t *testing.T) {
	assert := test.Assert{TB: t}
	i, pub, _ := newInfo(t)
	r, err := hset(i, FreqKHz, "600000")
	assert.Nil(err)
	assert.True(r == 1)
	assert.True(pub.has("busfreq.freq.khz: 600000"))
	assert.True(pub.has("busfreq.volt.uv: 1075000"))

	_, err = hset(i, FreqKHz, "999999")
	assert.True(engine.IsKind(err, engine.InvalidOperatingPoint))
	_, err = hset(i, FreqKHz, "fast")
	assert.True(err != nil)
	_, err = hset(i, "busfreq.governor", "ondemand")
	assert.Error(err, "cannot hset: busfreq.governor")
}

func TestHsetVoltTable(t *testing.T) {
	assert := test.Assert{TB: t}
	i, pub, _ := newInfo(t)
	_, err := hset(i, VoltTable, "400000 951000")
	assert.Nil(err)
	assert.True(pub.has("busfreq.volt_table.400000: 956250"))

	_, err = hset(i, VoltTable, "1100000 1000000 990000")
	assert.Nil(err)
	assert.True(pub.has("busfreq.volt_table.600000: 1100000"))
	assert.True(pub.has("busfreq.volt_table.480000: 993750"))

	_, err = hset(i, VoltTable, "")
	assert.Error(err, "busfreq.volt_table: empty")
	_, err = hset(i, VoltTable, "1 2 x")
	assert.True(err != nil)
}

func TestHsetCold(t *testing.T) {
	assert := test.Assert{TB: t}
	i, pub, rec := newInfo(t)
	_, err := hset(i, FreqKHz, "222000")
	assert.Nil(err)
	assert.True(rec.VoltUV == 950000)
	_, err = hset(i, Cold, "true")
	assert.Nil(err)
	assert.True(rec.VoltUV == 987500)
	assert.True(pub.has("busfreq.cold: true"))
	_, err = hset(i, Cold, "false")
	assert.Nil(err)
	assert.True(rec.VoltUV == 950000)
	assert.True(pub.has("busfreq.cold: false"))
	_, err = hset(i, Cold, "chilly")
	assert.True(err != nil)
}

func TestUpdate(t *testing.T) {
	assert := test.Assert{TB: t}
	i, pub, _ := newInfo(t)
	assert.Nil(i.update())
	assert.True(pub.has("busfreq.freq.khz: 400000"))
	assert.True(pub.has("busfreq.load.busy: 3"))
	assert.True(pub.has("busfreq.load.total: 9"))
	assert.True(pub.has("busfreq.time_in_state.400000: 0"))
	n := len(*pub)
	assert.Nil(i.update())
	// unchanged values aren't published again
	assert.True(len(*pub) == n)

	i.publishTables()
	assert.True(pub.has("busfreq.freq_table: " +
		"600000 500000 480000 460000 440000 400000 333000 222000 133000 83000"))
}

func TestShutdownPublishes(t *testing.T) {
	assert := test.Assert{TB: t}
	i, pub, _ := newInfo(t)
	_, err := hset(i, FreqKHz, "133000")
	assert.Nil(err)
	n := len(*pub)
	assert.Nil(i.eng.Shutdown())
	after := lines((*pub)[n:])
	assert.True(after.has("busfreq.freq.khz: 400000"))
	assert.True(after.has("busfreq.volt.uv: 987500"))
}

func TestConfigure(t *testing.T) {
	assert := test.Assert{TB: t}
	dir, err := ioutil.TempDir("", "busfreqd")
	assert.Nil(err)
	defer os.RemoveAll(dir)
	fn := filepath.Join(dir, "busfreq.yaml")
	assert.Nil(ioutil.WriteFile(fn, []byte("variant: wqxga\n"), 0644))
	cfg, dtb, err := configure(fn, filepath.Join(dir, "linux.dtb"))
	assert.Nil(err)
	assert.True(dtb == nil)
	assert.Equal(cfg.Variant, "wqxga")
}

func TestCommand(t *testing.T) {
	assert := test.Assert{TB: t}
	c := new(Command)
	assert.True(cmd.WhatKind(c).IsDaemon())
	assert.True(strings.HasPrefix(c.Usage(), Name))
	assert.Nil(c.Close())
	assert.Error(c.Main("extra"), "[extra]: unexpected")
}

func TestClose(t *testing.T) {
	assert := test.Assert{TB: t}
	c, pub, rec := newCommand(t)
	_, err := hset(&c.Info, FreqKHz, "133000")
	assert.Nil(err)
	n := len(*pub)
	returned := serve(c)

	assert.Nil(c.Close())
	// the bus is back at its boot level before Close returns
	assert.True(c.eng.Snapshot().FreqKHz == 400000)
	assert.Same(rec.Released(), reversed(rec.Acquired()))
	after := lines((*pub)[n:])
	assert.True(after.has("busfreq.freq.khz: 400000"))
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("loop still running after Close")
	}
	assert.Error(c.eng.RequestFrequency(600000), engine.ErrClosed)
	assert.Nil(c.Close())
}

func TestCloseShutdownFailure(t *testing.T) {
	assert := test.Assert{TB: t}
	c, _, rec := newCommand(t)
	_, err := hset(&c.Info, FreqKHz, "133000")
	assert.Nil(err)
	serve(c)
	rec.FailOn("rate")
	err = c.Close()
	assert.True(engine.IsKind(err, engine.ClockProviderFailure))
	assert.Same(rec.Released(), reversed(rec.Acquired()))
	assert.True(engine.IsKind(c.Close(), engine.ClockProviderFailure))
}

func TestCloseBeforeEngine(t *testing.T) {
	assert := test.Assert{TB: t}
	c := new(Command)
	_, err := c.start()
	assert.Nil(err)
	closed := make(chan error)
	go func() { closed <- c.Close() }()
	// Main failing before the engine exists
	c.finish()
	assert.Nil(<-closed)
	assert.Nil(c.Close())
}

func TestCloseBeforeMain(t *testing.T) {
	assert := test.Assert{TB: t}
	dir, err := ioutil.TempDir("", "busfreqd")
	assert.Nil(err)
	defer os.RemoveAll(dir)
	c := new(Command)
	assert.Nil(c.Close())
	assert.Nil(c.Close())
	err = c.Main("-config", filepath.Join(dir, "busfreq.yaml"),
		"-dtb", filepath.Join(dir, "linux.dtb"), "-dry-run")
	assert.Error(err, errClosed)
}
