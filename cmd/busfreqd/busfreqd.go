// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package busfreqd provides the internal bus frequency scaling daemon.
//
// The daemon publishes the committed bus state to redis and takes the
// governor's target frequency, voltage table overrides, and the cold
// condition through hset of its busfreq fields.
package busfreqd

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/rpc"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/atsock"
	"github.com/platinasystems/busfreq/cmd"
	"github.com/platinasystems/busfreq/internal/board"
	"github.com/platinasystems/busfreq/internal/clkctl"
	"github.com/platinasystems/busfreq/internal/engine"
	"github.com/platinasystems/busfreq/internal/pmic"
	"github.com/platinasystems/busfreq/internal/ppmu"
	"github.com/platinasystems/busfreq/internal/tmu"
	"github.com/platinasystems/busfreq/lang"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/redis"
	"github.com/platinasystems/redis/publisher"
)

const (
	Name   = "busfreqd"
	Prefix = "busfreq."
)

const (
	FreqKHz     = Prefix + "freq.khz"
	VoltUV      = Prefix + "volt.uv"
	Cold        = Prefix + "cold"
	Busy        = Prefix + "load.busy"
	Total       = Prefix + "load.total"
	FreqTable   = Prefix + "freq_table"
	VoltTable   = Prefix + "volt_table"
	TimeInState = Prefix + "time_in_state"
)

type Command struct {
	Info
	// Init, if set, is run once before the daemon starts.
	Init func()
	init sync.Once

	// state guards the lifecycle channels between Main and Close.
	state  sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
	err    error
}

var errClosed = errors.New("closed")

type printer interface {
	Print(...interface{}) (int, error)
}

type Info struct {
	mutex   sync.Mutex
	rpc     *atsock.RpcServer
	pub     printer
	eng     *engine.Engine
	lasts   map[string]string
	channel *tmu.Channel
}

func (*Command) String() string { return Name }

func (*Command) Usage() string {
	return Name + " [-config FILE] [-dtb FILE] [-variant standard|wqxga] [-dry-run]"
}

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "internal bus frequency scaling daemon",
	}
}

func (*Command) Kind() cmd.Kind { return cmd.Daemon }

func (c *Command) Main(args ...string) error {
	if c.Init != nil {
		c.init.Do(c.Init)
	}
	parm, args := parms.New(args, "-config", "-dtb", "-variant")
	flag, args := flags.New(args, "-dry-run")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}

	cfg, dtb, err := configure(parm.ByName["-config"], parm.ByName["-dtb"])
	if err != nil {
		return err
	}
	if v := parm.ByName["-variant"]; len(v) > 0 {
		cfg.Variant = v
	}
	setup, err := cfg.Setup()
	if err != nil {
		return err
	}
	res := engine.Resources{
		Points:   setup.Points,
		Topology: setup.Topology,
		Load:     ppmu.File(cfg.Load),
	}
	if flag.ByName["-dry-run"] {
		res.Clocks = clkctl.DryRun{}
		res.Regulator = pmic.NewDryRun(setup.Engine.Limits.FloorUV)
	} else {
		res.Clocks = clkctl.New(cfg.Clocks)
		res.Regulator = pmic.New(pmic.SMBus{
			Bus:  cfg.Regulator.Bus,
			Addr: cfg.Regulator.Addr,
		}, cfg.Regulator.Register, cfg.Regulator.BaseUV,
			cfg.Regulator.StepUV)
	}

	stop, err := c.start()
	if err != nil {
		return err
	}
	defer c.finish()

	if err = ready(stop); err != nil {
		return err
	}
	select {
	case <-stop:
		return nil
	default:
	}

	c.lasts = make(map[string]string)

	if c.pub, err = publisher.New(); err != nil {
		return err
	}
	if c.eng, err = engine.New(setup.Engine, res); err != nil {
		return err
	}
	c.eng.SetHooks(c.Info.hooks())
	c.publishTables()

	if c.rpc, err = atsock.NewRpcServer(Name); err != nil {
		return err
	}
	rpc.Register(&c.Info)
	err = redis.Assign(redis.DefaultHash+":"+Prefix, Name, "Info")
	if err != nil {
		return err
	}

	if len(cfg.ColdPin) > 0 {
		if err = tmu.LoadPins(dtb); err != nil {
			log.Print("daemon", "err", err)
		} else if pin, err := tmu.NewPin(cfg.ColdPin, true); err != nil {
			log.Print("daemon", "err", err)
		} else {
			go pin.Watch(stop, cfg.Poll, c.eng.ThermalEdge)
		}
	}
	if len(cfg.ColdChannel) > 0 {
		if c.channel, err = tmu.Subscribe(cfg.ColdChannel); err != nil {
			log.Print("daemon", "err", cfg.ColdChannel, ": ", err)
		} else {
			go func(ch *tmu.Channel) {
				err := ch.Watch(c.eng.ThermalEdge)
				if err != nil {
					log.Print("daemon", "err", ch.Name, ": ", err)
				}
			}(c.channel)
		}
	}

	c.loop(stop, cfg.Poll)
	return nil
}

// Close stops Main and waits for it to return the bus to its boot level.
// It may be called more than once, and before or without Main.
func (c *Command) Close() error {
	c.state.Lock()
	done := c.done
	c.stopLocked()
	c.state.Unlock()
	if done == nil {
		return nil
	}
	<-done
	return c.err
}

// start makes the stop channel unless already closed.
func (c *Command) start() (<-chan struct{}, error) {
	c.state.Lock()
	defer c.state.Unlock()
	if c.closed {
		return nil, errClosed
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	return c.stop, nil
}

func (c *Command) stopLocked() {
	if c.closed {
		return
	}
	c.closed = true
	if c.stop != nil {
		close(c.stop)
	}
}

// finish tears down, in reverse, whatever Main started, then releases
// Close. It runs on the Main goroutine.
func (c *Command) finish() {
	c.state.Lock()
	c.stopLocked()
	c.state.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.rpc != nil {
		c.rpc.Close()
	}
	if c.eng != nil {
		if err := c.eng.Shutdown(); err != nil && err != engine.ErrClosed {
			c.err = err
		}
	}
	close(c.done)
}

func (c *Command) loop(stop <-chan struct{}, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := c.update(); err != nil {
				log.Print("daemon", "err", err)
			}
		}
	}
}

// configure loads the board file then fills in what the device tree has.
func configure(fn, dtbfn string) (board.Config, []byte, error) {
	if len(fn) == 0 {
		fn = board.DefaultFile
	}
	if len(dtbfn) == 0 {
		dtbfn = board.DefaultDtb
	}
	cfg, err := board.Load(fn)
	if err != nil {
		return cfg, nil, err
	}
	dtb, err := ioutil.ReadFile(dtbfn)
	if err != nil {
		log.Print("daemon", "info", dtbfn, ": ", err)
		return cfg, nil, nil
	}
	if p, err := board.Probe(dtb); err != nil {
		log.Print("daemon", "err", dtbfn, ": ", err)
	} else {
		cfg.Merge(p)
	}
	return cfg, dtb, nil
}

// ready waits for redis with a capped exponential backoff. It returns nil
// if stopped while waiting.
func ready(stop <-chan struct{}) error {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		err := redis.IsReady()
		if err == nil {
			return nil
		}
		d := b.Duration()
		if d >= b.Max {
			return fmt.Errorf("redis not ready: %v", err)
		}
		log.Print("daemon", "info", "redis not ready, retry in ", d)
		select {
		case <-stop:
			return nil
		case <-time.After(d):
		}
	}
}

func (i *Info) hooks() engine.Hooks {
	return engine.Hooks{
		Commit: func(s engine.Snapshot) {
			i.publishSnapshot(s)
		},
		ThermalEdge: func(cold bool, err error) {
			if err == nil {
				i.publishSnapshot(i.eng.Snapshot())
			}
		},
		Shutdown: func(err error) {
			if err != nil {
				log.Print("daemon", "err", "shutdown: ", err)
			}
			i.publish(FreqKHz, i.eng.Snapshot().FreqKHz)
		},
	}
}

// publish sends changed values.
func (i *Info) publish(key string, value interface{}) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	s := fmt.Sprint(value)
	if last, found := i.lasts[key]; found && last == s {
		return
	}
	i.lasts[key] = s
	i.pub.Print(key, ": ", s)
}

func (i *Info) publishSnapshot(s engine.Snapshot) {
	i.publish(FreqKHz, s.FreqKHz)
	i.publish(VoltUV, s.VoltUV)
	i.publish(Cold, s.Cold())
}

func (i *Info) publishTables() {
	i.publish(FreqTable, engine.FormatFrequencies(i.eng.FrequencyTable()))
	for _, v := range i.eng.VoltageTable() {
		i.publish(fmt.Sprint(VoltTable, ".", v.FreqKHz), v.VoltUV)
	}
}

func (i *Info) update() error {
	st, err := i.eng.Status()
	i.publishSnapshot(i.eng.Snapshot())
	for _, r := range i.eng.ResidencyTable() {
		i.publish(fmt.Sprint(TimeInState, ".", r.FreqKHz), r.Ticks)
	}
	if err != nil {
		return err
	}
	i.publish(Busy, st.Busy)
	i.publish(Total, st.Total)
	return nil
}
