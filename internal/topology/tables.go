// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package topology

import (
	"fmt"
	"strings"

	"github.com/platinasystems/busfreq/internal/opp"
)

// DomainID indexes the domain arena.
type DomainID int

const (
	Aclk200Fsys DomainID = iota
	Pclk200Fsys
	Aclk100Noc
	Aclk400Wcore
	Aclk200Fsys2
	Aclk200Disp1
	Aclk400Mscl
	Aclk400Isp
	Aclk166
	Aclk266
	Aclk66
	Aclk333432Isp
	Aclk333432Isp0
	Aclk333432Gscl
	Aclk300Gscl
	Aclk300Disp1
	Aclk300Jpeg
	Aclk266G2d
	Aclk333G2d
	Aclk400Disp1
	NDomains
)

// Variant tags the board's display option, which changes the domain tables.
type Variant int

const (
	Standard Variant = iota
	WQXGA
)

func (v Variant) String() string {
	switch v {
	case Standard:
		return "standard"
	case WQXGA:
		return "wqxga"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return Standard, nil
	case "wqxga":
		return WQXGA, nil
	}
	return Standard, fmt.Errorf("%s: unknown board variant", s)
}

// TableSet is the precomputed domain tables of one board variant.
type TableSet struct {
	Variant Variant
	Levels  int
	Domains []Domain
	// FastBand and IsolatedBand are the highest levels at which the
	// respective auxiliary source is needed.
	FastBand     opp.Level
	IsolatedBand opp.Level
	// Missing lists the operating points the variant has no settings for.
	Missing []opp.Level
}

// DefaultSources are the source muxes of the Exynos5420 clock tree.
func DefaultSources() Sources {
	return Sources{
		DirectMux: "mout_spll",
		SourceC:   "mout_cpll",
		SourceD:   "mout_dpll",
		SourceM:   "mout_mpll",
	}
}

// Tables returns a new copy of the variant's table set.
func Tables(v Variant) (*TableSet, error) {
	switch v {
	case Standard:
		return &TableSet{
			Variant:      Standard,
			Levels:       int(opp.NLevels),
			Domains:      standard(),
			FastBand:     opp.LV2,
			IsolatedBand: opp.LV1_3,
		}, nil
	case WQXGA:
		return &TableSet{
			Variant:      WQXGA,
			Levels:       int(opp.LV6),
			Domains:      wqxga(),
			FastBand:     opp.LV3,
			IsolatedBand: opp.LV1_3,
			Missing:      []opp.Level{opp.LV6},
		}, nil
	}
	return nil, fmt.Errorf("%v: no tables", v)
}

func uniform(src Source, freqs ...uint32) []Setting {
	s := make([]Setting, len(freqs))
	for i, f := range freqs {
		s[i] = Setting{f, src}
	}
	return s
}

func domain(id DomainID, name string, settings []Setting) Domain {
	return Domain{
		ID:       id,
		Name:     name,
		Gate:     Clock(name + "_sw"),
		Parent:   Clock(name + "_dout"),
		Settings: settings,
	}
}

// standard lists the domains in registration order; each row is indexed by
// level LV0, LV1, LV1_1, LV1_2, LV1_3, LV2, LV3, LV4, LV5, LV6.
func standard() []Domain {
	wcore := domain(Aclk400Wcore, "aclk_400_wcore", []Setting{
		{400000, DirectMux}, {400000, DirectMux}, {400000, DirectMux},
		{400000, DirectMux}, {400000, DirectMux}, {400000, DirectMux},
		{333000, SourceC}, {222000, SourceC}, {111000, SourceC},
		{84000, SourceC},
	})
	wcore.Grandparent = "aclk_400_wcore_mout"
	disp1 := domain(Aclk200Disp1, "aclk_200_disp1", uniform(SourceD,
		200000, 200000, 200000, 200000, 200000, 200000, 150000,
		150000, 100000, 100000))
	disp1.Gate, disp1.Parent = "aclk_200_sw", "aclk_200_dout"
	return []Domain{
		domain(Aclk200Fsys, "aclk_200_fsys", uniform(SourceD,
			200000, 200000, 200000, 200000, 200000, 200000, 200000,
			150000, 100000, 100000)),
		domain(Pclk200Fsys, "pclk_200_fsys", uniform(SourceD,
			200000, 200000, 200000, 200000, 200000, 200000, 150000,
			150000, 100000, 100000)),
		domain(Aclk100Noc, "aclk_100_noc", []Setting{
			{100000, SourceD}, {100000, SourceD}, {100000, SourceD},
			{100000, SourceD}, {100000, SourceD}, {100000, SourceD},
			{86000, SourceD}, {75000, SourceD}, {67000, SourceM},
			{67000, SourceM},
		}),
		wcore,
		domain(Aclk200Fsys2, "aclk_200_fsys2", uniform(SourceD,
			200000, 200000, 200000, 200000, 200000, 200000, 200000,
			150000, 100000, 100000)),
		disp1,
		domain(Aclk400Mscl, "aclk_400_mscl", []Setting{
			{400000, DirectMux}, {400000, DirectMux}, {400000, DirectMux},
			{400000, DirectMux}, {400000, DirectMux}, {400000, DirectMux},
			{333000, SourceC}, {222000, SourceC}, {167000, SourceC},
			{84000, SourceC},
		}),
		domain(Aclk400Isp, "aclk_400_isp", []Setting{
			{400000, DirectMux}, {400000, DirectMux}, {400000, DirectMux},
			{400000, DirectMux}, {400000, DirectMux}, {67000, SourceM},
			{67000, SourceM}, {67000, SourceM}, {67000, SourceM},
			{67000, SourceM},
		}),
		domain(Aclk166, "aclk_166", uniform(SourceC,
			167000, 167000, 167000, 167000, 167000, 167000, 134000,
			111000, 84000, 84000)),
		domain(Aclk266, "aclk_266", uniform(SourceM,
			266000, 133000, 178000, 76000, 76000, 266000, 178000,
			133000, 133000, 89000)),
		domain(Aclk66, "aclk_66", uniform(SourceC,
			67000, 67000, 67000, 67000, 67000, 67000, 67000,
			67000, 67000, 67000)),
		domain(Aclk333432Isp, "aclk_333_432_isp", uniform(SourceI,
			432000, 144000, 216000, 87000, 87000, 3000, 3000,
			3000, 3000, 3000)),
		domain(Aclk333432Isp0, "aclk_333_432_isp0", uniform(SourceI,
			432000, 144000, 216000, 87000, 87000, 3000, 3000,
			3000, 3000, 3000)),
		domain(Aclk333432Gscl, "aclk_333_432_gscl", uniform(SourceI,
			432000, 432000, 216000, 432000, 87000, 3000, 3000,
			3000, 3000, 3000)),
		domain(Aclk300Gscl, "aclk_300_gscl", uniform(SourceD,
			300000, 300000, 300000, 300000, 300000, 300000, 300000,
			200000, 150000, 75000)),
		domain(Aclk300Disp1, "aclk_300_disp1", uniform(SourceD,
			200000, 200000, 200000, 200000, 200000, 200000, 200000,
			200000, 200000, 120000)),
		domain(Aclk300Jpeg, "aclk_300_jpeg", uniform(SourceD,
			300000, 300000, 300000, 300000, 300000, 300000, 300000,
			200000, 150000, 75000)),
		domain(Aclk266G2d, "aclk_266_g2d", uniform(SourceM,
			266000, 266000, 266000, 266000, 266000, 266000, 266000,
			178000, 133000, 67000)),
		domain(Aclk333G2d, "aclk_333_g2d", uniform(SourceC,
			333000, 333000, 333000, 333000, 333000, 333000, 222000,
			222000, 167000, 84000)),
		domain(Aclk400Disp1, "aclk_400_disp1", uniform(SourceD,
			300000, 300000, 300000, 300000, 300000, 300000, 300000,
			200000, 200000, 120000)),
	}
}

// wqxga drops LV6 from every domain and retunes the LV5 and display rows.
func wqxga() []Domain {
	ds := standard()
	for i := range ds {
		ds[i].Settings = ds[i].Settings[:opp.LV6]
	}
	set := func(id DomainID, l opp.Level, s Setting) {
		for i := range ds {
			if ds[i].ID == id {
				ds[i].Settings[l] = s
			}
		}
	}
	set(Aclk400Wcore, opp.LV5, Setting{134000, SourceC})
	set(Aclk200Disp1, opp.LV3, Setting{200000, SourceD})
	set(Aclk400Mscl, opp.LV5, Setting{84000, SourceC})
	set(Aclk266, opp.LV5, Setting{89000, SourceM})
	set(Aclk333432Isp0, opp.LV1, Setting{432000, SourceI})
	set(Aclk333432Isp, opp.LV1, Setting{432000, SourceI})
	set(Aclk300Gscl, opp.LV5, Setting{75000, SourceD})
	set(Aclk300Jpeg, opp.LV5, Setting{75000, SourceD})
	set(Aclk266G2d, opp.LV5, Setting{67000, SourceM})
	set(Aclk333G2d, opp.LV5, Setting{84000, SourceC})
	for l := opp.LV0; l < opp.LV5; l++ {
		set(Aclk300Disp1, l, Setting{300000, SourceD})
	}
	set(Aclk300Disp1, opp.LV5, Setting{200000, SourceD})
	for l := opp.LV0; l <= opp.LV3; l++ {
		set(Aclk400Disp1, l, Setting{400000, DirectMux})
	}
	set(Aclk400Disp1, opp.LV4, Setting{300000, SourceD})
	set(Aclk400Disp1, opp.LV5, Setting{200000, SourceD})
	return ds
}
