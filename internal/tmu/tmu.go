// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package tmu delivers the thermal management unit's cold alert as edges,
// either from a gpio or from messages published on a redis channel.
package tmu

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"time"

	redigo "github.com/garyburd/redigo/redis"
	"github.com/platinasystems/gpio"
	"github.com/platinasystems/log"
	"github.com/platinasystems/redis"
)

// Key is the channel message field of the cold alert, "tmu.cold: true".
const Key = "tmu.cold"

// Handler is given each change of the cold condition.
type Handler func(cold bool) error

// Reader samples a pin; gpio.Pin is one.
type Reader interface {
	Value() (bool, error)
}

type Pin struct {
	Name      string
	ActiveLow bool

	r     Reader
	known bool
	cold  bool
}

// NewPin looks up the named pin of the gpio pin map.
func NewPin(name string, activeLow bool) (*Pin, error) {
	pin, found := gpio.Pins[name]
	if !found {
		return nil, fmt.Errorf("%s: pin not found", name)
	}
	return &Pin{Name: name, ActiveLow: activeLow, r: pin}, nil
}

// Poll samples the pin, calling h if the condition changed. The first
// sample is an edge only if cold.
func (p *Pin) Poll(h Handler) error {
	v, err := p.r.Value()
	if err != nil {
		return fmt.Errorf("%s: %v", p.Name, err)
	}
	cold := v != p.ActiveLow
	if p.known && cold == p.cold {
		return nil
	}
	if !p.known && !cold {
		p.known = true
		return nil
	}
	if err = h(cold); err != nil {
		return err
	}
	p.known, p.cold = true, cold
	return nil
}

// Watch polls the pin until stop is closed.
func (p *Pin) Watch(stop <-chan struct{}, every time.Duration, h Handler) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if err := p.Poll(h); err != nil {
			log.Print("daemon", "err", err)
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// Receiver is a redis subscription; redigo.PubSubConn is one.
type Receiver interface {
	Receive() interface{}
	Close() error
}

type Channel struct {
	Name string

	mutex  sync.Mutex
	psc    Receiver
	closed bool
}

// Subscribe to the named redis channel.
func Subscribe(name string) (*Channel, error) {
	psc, err := redis.Subscribe(name)
	if err != nil {
		return nil, err
	}
	return NewChannel(name, psc), nil
}

func NewChannel(name string, psc Receiver) *Channel {
	return &Channel{Name: name, psc: psc}
}

// Watch calls h with each cold alert message until the subscription ends.
// It returns nil once closed.
func (c *Channel) Watch(h Handler) error {
	for {
		switch t := c.psc.Receive().(type) {
		case redigo.Message:
			if t.Channel != c.Name {
				continue
			}
			cold, ok := ParseMessage(t.Data)
			if !ok {
				continue
			}
			if err := h(cold); err != nil {
				log.Print("daemon", "err", Key, ": ", err)
			}
		case error:
			c.mutex.Lock()
			closed := c.closed
			c.mutex.Unlock()
			if closed {
				return nil
			}
			return t
		}
	}
}

func (c *Channel) Close() error {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	return c.psc.Close()
}

// ParseMessage decodes "tmu.cold: BOOL".
func ParseMessage(data []byte) (cold, ok bool) {
	const sep = ": "
	x := bytes.SplitN(data, []byte(sep), 2)
	if len(x) != 2 || string(x[0]) != Key {
		return false, false
	}
	cold, err := strconv.ParseBool(string(bytes.TrimSpace(x[1])))
	return cold, err == nil
}
