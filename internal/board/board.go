// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package board describes the board the bus runs on: its display variant,
// calibration voltages, auxiliary source bands, and provider locations.
package board

import (
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/platinasystems/busfreq/internal/engine"
	"github.com/platinasystems/busfreq/internal/opp"
	"github.com/platinasystems/busfreq/internal/thermal"
	"github.com/platinasystems/busfreq/internal/topology"
	"gopkg.in/yaml.v2"
)

const (
	DefaultFile = "/etc/goes/busfreq.yaml"
	DefaultDtb  = "/boot/linux.dtb"
)

type Regulator struct {
	Bus      int    `yaml:"bus"`
	Addr     int    `yaml:"addr"`
	Register uint8  `yaml:"register"`
	BaseUV   uint32 `yaml:"base_uv"`
	StepUV   uint32 `yaml:"step_uv"`
}

type Config struct {
	// Variant is empty until given by the board file or device tree.
	Variant    string `yaml:"variant"`
	InitialKHz uint32 `yaml:"initial_khz"`
	// FastBandKHz and IsolatedBandKHz are the slowest frequencies that
	// still need the respective auxiliary source; zero keeps the
	// variant's default.
	FastBandKHz     uint32            `yaml:"fast_band_khz"`
	IsolatedBandKHz uint32            `yaml:"isolated_band_khz"`
	ColdOffsetUV    int32             `yaml:"cold_offset_uv"`
	FloorUV         uint32            `yaml:"floor_uv"`
	CeilingUV       uint32            `yaml:"ceiling_uv"`
	Calibration     map[uint32]uint32 `yaml:"calibration"`

	Clocks      string        `yaml:"clocks"`
	Load        string        `yaml:"load"`
	Regulator   Regulator     `yaml:"regulator"`
	ColdPin     string        `yaml:"cold_pin"`
	ColdChannel string        `yaml:"cold_channel"`
	Poll        time.Duration `yaml:"poll"`
}

func Default() Config {
	return Config{
		InitialKHz:   400000,
		ColdOffsetUV: thermal.ColdOffsetUV,
		FloorUV:      thermal.Default.FloorUV,
		CeilingUV:    thermal.Default.CeilingUV,
		Clocks:       "/sys/kernel/debug/clk",
		Load:         "/sys/class/devfreq/exynos5-busfreq-int/load",
		Regulator: Regulator{
			Bus:      0,
			Addr:     0x66,
			Register: 0x28,
			BaseUV:   600000,
			StepUV:   opp.VoltStepUV,
		},
		ColdChannel: "platina",
		Poll:        100 * time.Millisecond,
	}
}

// Parse decodes yaml over the default configuration.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("board: %v", err)
	}
	return c, nil
}

// Load parses the named file. A missing file leaves the defaults.
func Load(fn string) (Config, error) {
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Default(), err
	}
	c, err := Parse(b)
	if err != nil {
		return c, fmt.Errorf("%s: %v", fn, err)
	}
	return c, nil
}

// Setup is the engine configuration and tables of a board.
type Setup struct {
	Set      *topology.TableSet
	Points   *opp.Table
	Topology *topology.Topology
	Engine   engine.Config
}

// Setup selects the variant tables, applies calibration voltages, and
// resolves the auxiliary source bands.
func (c *Config) Setup() (*Setup, error) {
	v, err := topology.ParseVariant(c.Variant)
	if err != nil {
		return nil, err
	}
	set, err := topology.Tables(v)
	if err != nil {
		return nil, err
	}
	points := opp.Exynos5420()
	for _, l := range set.Missing {
		points.Disable(l)
	}
	if len(c.Calibration) > 0 {
		points.Calibrate(c.Calibration)
	}
	for _, x := range []struct {
		name string
		khz  uint32
		band *opp.Level
	}{
		{"fast band", c.FastBandKHz, &set.FastBand},
		{"isolated band", c.IsolatedBandKHz, &set.IsolatedBand},
	} {
		if x.khz == 0 {
			continue
		}
		l, err := points.Exact(x.khz)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", x.name, err)
		}
		*x.band = l
	}
	topo, err := topology.New(set, topology.DefaultSources())
	if err != nil {
		return nil, err
	}
	cfg := engine.DefaultConfig(set)
	if c.InitialKHz != 0 {
		cfg.InitialFreqKHz = c.InitialKHz
	}
	cfg.ColdOffsetUV = c.ColdOffsetUV
	if c.FloorUV != 0 {
		cfg.Limits.FloorUV = c.FloorUV
	}
	if c.CeilingUV != 0 {
		cfg.Limits.CeilingUV = c.CeilingUV
	}
	if cfg.Limits.FloorUV > cfg.Limits.CeilingUV {
		return nil, fmt.Errorf("floor %d uV above ceiling %d uV",
			cfg.Limits.FloorUV, cfg.Limits.CeilingUV)
	}
	return &Setup{
		Set:      set,
		Points:   points,
		Topology: topo,
		Engine:   cfg,
	}, nil
}
