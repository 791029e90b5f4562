// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package board

import (
	"strings"

	"github.com/platinasystems/busfreq/internal/topology"
	"github.com/platinasystems/fdt"
)

// Node is the device tree node with the bus properties:
//
//	busfreq {
//		variant = "wqxga";
//		asv = <400000 975000 333000 950000>;
//	};
const Node = "busfreq"

// Probed is what the device tree says about the board.
type Probed struct {
	Variant     string
	Calibration map[uint32]uint32
}

// Probe parses a flattened device tree.
func Probe(dtb []byte) (*Probed, error) {
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	if err := t.Parse(dtb); err != nil {
		return nil, err
	}
	return ProbeTree(t), nil
}

// ProbeTree takes the variant from the bus node, or else from any display
// controller compatible with a wqxga panel.
func ProbeTree(t *fdt.Tree) *Probed {
	p := &Probed{Calibration: make(map[uint32]uint32)}
	t.MatchNode(Node, func(n *fdt.Node) {
		if b, found := n.Properties["variant"]; found {
			p.Variant = strings.TrimRight(t.PropString(b), "\x00")
		}
		if b, found := n.Properties["asv"]; found {
			v := t.PropUint32Slice(b)
			for i := 0; i+1 < len(v); i += 2 {
				p.Calibration[v[i]] = v[i+1]
			}
		}
	})
	if len(p.Variant) == 0 {
		t.EachProperty("compatible", "wqxga",
			func(*fdt.Node, string, string) {
				p.Variant = topology.WQXGA.String()
			})
	}
	return p
}

// Merge fills in the variant and calibration voltages the board file
// doesn't give.
func (c *Config) Merge(p *Probed) {
	if len(c.Variant) == 0 {
		c.Variant = p.Variant
	}
	if len(p.Calibration) == 0 {
		return
	}
	if c.Calibration == nil {
		c.Calibration = make(map[uint32]uint32)
	}
	for f, uV := range p.Calibration {
		if _, found := c.Calibration[f]; !found {
			c.Calibration[f] = uV
		}
	}
}
