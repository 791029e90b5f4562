// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package engine

import (
	"github.com/platinasystems/busfreq/internal/opp"
	"github.com/platinasystems/busfreq/internal/residency"
	"github.com/platinasystems/busfreq/internal/thermal"
	"github.com/platinasystems/busfreq/internal/topology"
)

// Band is the set of levels at or below Max in table order, i.e. the
// fastest levels.
type Band struct {
	Max opp.Level
}

func (b Band) In(l opp.Level) bool { return l <= b.Max }

// Fast is the auxiliary source that is enabled while the level is in Band.
// An empty Clock disables the gating.
type Fast struct {
	Clock topology.Clock
	Band  Band
}

// Isolated is the auxiliary source that is reparented to Feed while the
// level is in Band and to Quiescent otherwise.
type Isolated struct {
	Clock     topology.Clock
	Feed      topology.Clock
	Quiescent topology.Clock
	Band      Band
}

type Config struct {
	InitialFreqKHz uint32
	// MarginUV is the regulator window above the target voltage.
	MarginUV     uint32
	ColdOffsetUV int32
	Limits       thermal.Limits
	Fast         Fast
	Isolated     Isolated
}

// DefaultConfig returns the Exynos5420 configuration for the table set.
func DefaultConfig(set *topology.TableSet) Config {
	return Config{
		InitialFreqKHz: 400000,
		MarginUV:       opp.VoltStepUV,
		ColdOffsetUV:   thermal.ColdOffsetUV,
		Limits:         thermal.Default,
		Fast: Fast{
			Clock: "fout_spll",
			Band:  Band{set.FastBand},
		},
		Isolated: Isolated{
			Clock:     "fout_ipll",
			Feed:      "ipll",
			Quiescent: "ext_xtal",
			Band:      Band{set.IsolatedBand},
		},
	}
}

// Regulator is the bus voltage supply.
type Regulator interface {
	SetVoltage(minUV, maxUV uint32) error
	Voltage() (uint32, error)
}

// LoadMonitor samples the bus busy and total cycle counters.
type LoadMonitor interface {
	Counters() (busy, total uint64, err error)
}

// Resources are the providers the engine drives. Load and Clock are
// optional.
type Resources struct {
	Points    *opp.Table
	Topology  *topology.Topology
	Clocks    topology.Provider
	Regulator Regulator
	Load      LoadMonitor
	Clock     residency.Clock
}
