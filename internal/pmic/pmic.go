// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package pmic drives the bus supply rail of an SMBus buck regulator whose
// output is base + code * step.
package pmic

import (
	"fmt"
	"sync"

	"github.com/platinasystems/i2c"
	"github.com/platinasystems/log"
)

// Transport reads and writes byte registers of the regulator.
type Transport interface {
	Get(reg uint8) (uint8, error)
	Set(reg, v uint8) error
}

// SMBus is the Transport at an i2c bus and slave address.
type SMBus struct {
	Bus  int
	Addr int
}

func (d SMBus) Get(reg uint8) (v uint8, err error) {
	err = i2c.Do(d.Bus, d.Addr, func(bus *i2c.Bus) error {
		var data i2c.SMBusData
		err := bus.Read(reg, i2c.ByteData, &data)
		v = data[0]
		return err
	})
	return
}

func (d SMBus) Set(reg, v uint8) error {
	return i2c.Do(d.Bus, d.Addr, func(bus *i2c.Bus) error {
		var data i2c.SMBusData
		data[0] = v
		return bus.Write(reg, i2c.ByteData, &data)
	})
}

type Buck struct {
	mutex    sync.Mutex
	dev      Transport
	reg      uint8
	baseUV   uint32
	stepUV   uint32
	lastCode int
}

func New(dev Transport, reg uint8, baseUV, stepUV uint32) *Buck {
	return &Buck{
		dev:      dev,
		reg:      reg,
		baseUV:   baseUV,
		stepUV:   stepUV,
		lastCode: -1,
	}
}

// SetVoltage programs the lowest output within [minUV, maxUV].
func (b *Buck) SetVoltage(minUV, maxUV uint32) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if minUV > maxUV {
		return fmt.Errorf("%d..%d uV: invalid range", minUV, maxUV)
	}
	code := uint32(0)
	if minUV > b.baseUV {
		code = (minUV - b.baseUV + b.stepUV - 1) / b.stepUV
	}
	uV := b.baseUV + code*b.stepUV
	if code > 0xff || uV > maxUV {
		return fmt.Errorf("%d..%d uV: out of range", minUV, maxUV)
	}
	if int(code) == b.lastCode {
		return nil
	}
	if err := b.dev.Set(b.reg, uint8(code)); err != nil {
		return err
	}
	b.lastCode = int(code)
	return nil
}

// Voltage reads back the programmed output.
func (b *Buck) Voltage() (uint32, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	code, err := b.dev.Get(b.reg)
	if err != nil {
		return 0, err
	}
	b.lastCode = int(code)
	return b.baseUV + uint32(code)*b.stepUV, nil
}

// DryRun logs each voltage rather than programming a regulator.
type DryRun struct {
	mutex sync.Mutex
	uV    uint32
}

func NewDryRun(uV uint32) *DryRun { return &DryRun{uV: uV} }

func (d *DryRun) SetVoltage(minUV, maxUV uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	log.Print("daemon", "info", "voltage ", minUV, "..", maxUV, " uV")
	d.uV = minUV
	return nil
}

func (d *DryRun) Voltage() (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.uV, nil
}
