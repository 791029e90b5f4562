// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package opp

// Exynos5420 internal bus levels. LV0 through LV1_3 are reserved for the
// image signal processor.
const (
	LV0 Level = iota
	LV1
	LV1_1
	LV1_2
	LV1_3
	LV2
	LV3
	LV4
	LV5
	LV6
	NLevels
)

var exynos5420 = [NLevels]struct{ freqKHz, voltUV uint32 }{
	LV0:   {600000, 1075000},
	LV1:   {500000, 987500},
	LV1_1: {480000, 987500},
	LV1_2: {460000, 987500},
	LV1_3: {440000, 987500},
	LV2:   {400000, 987500},
	LV3:   {333000, 950000},
	LV4:   {222000, 950000},
	LV5:   {133000, 950000},
	LV6:   {83000, 925000},
}

// Exynos5420 returns a new table of the INT bus operating points with
// every level available and zero residency.
func Exynos5420() *Table {
	points := make([]Point, NLevels)
	for i, v := range exynos5420 {
		points[i] = Point{
			Level:     Level(i),
			FreqKHz:   v.freqKHz,
			VoltUV:    v.voltUV,
			Available: true,
		}
	}
	t, err := New(points...)
	if err != nil {
		panic(err)
	}
	return t
}
