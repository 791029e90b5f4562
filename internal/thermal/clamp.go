// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package thermal bounds the regulator voltage while the cold condition
// offset is applied.
package thermal

// ColdOffsetUV is added to the bus voltage while the die is cold.
const ColdOffsetUV = 37500

// Limits are the bounds of an offset voltage.
type Limits struct {
	FloorUV   uint32
	CeilingUV uint32
}

var Default = Limits{
	FloorUV:   950000,
	CeilingUV: 1250000,
}

// Clamp returns base plus offset bounded by the limits. A base already above
// the ceiling is returned as is, and a zero offset is never raised to the
// floor.
func (l Limits) Clamp(baseUV uint32, offsetUV int32) uint32 {
	base := int64(baseUV)
	if base > int64(l.CeilingUV) {
		return baseUV
	}
	v := base + int64(offsetUV)
	switch {
	case v > int64(l.CeilingUV):
		return l.CeilingUV
	case offsetUV != 0 && v < int64(l.FloorUV):
		return l.FloorUV
	case v < 0:
		return 0
	}
	return uint32(v)
}

// Clamp is Default.Clamp.
func Clamp(baseUV uint32, offsetUV int32) uint32 {
	return Default.Clamp(baseUV, offsetUV)
}
