// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package tmu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/platinasystems/fdt"
	"github.com/platinasystems/gpio"
)

// LoadPins builds the gpio pin map from the device tree.
func LoadPins(dtb []byte) error {
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	if err := t.Parse(dtb); err != nil {
		return fmt.Errorf("dtb: %v", err)
	}
	GatherPins(t)
	return nil
}

// GatherPins maps each described pin of every gpio controller aliased in
// the tree.
func GatherPins(t *fdt.Tree) {
	gpio.Aliases = make(gpio.GpioAliasMap)
	gpio.Pins = make(gpio.PinMap)
	t.MatchNode("aliases", gatherAliases)
	t.EachProperty("gpio-controller", "", gatherPins)
}

func gatherAliases(n *fdt.Node) {
	for p, pn := range n.Properties {
		if strings.Contains(p, "gpio") {
			val := strings.Split(string(pn), "\x00")
			v := strings.Split(val[0], "/")
			gpio.Aliases[p] = v[len(v)-1]
		}
	}
}

func gatherPins(n *fdt.Node, name string, value string) {
	for bank, alias := range gpio.Aliases {
		if alias != n.Name {
			continue
		}
		for _, c := range n.Children {
			var desc []string
			var mode string
			for p := range c.Properties {
				switch p {
				case "gpio-pin-desc":
					desc = strings.Split(c.Name, "@")
				case "output-high", "output-low", "input":
					mode = p
				}
			}
			if len(mode) == 0 || len(desc) != 2 {
				continue
			}
			i, err := strconv.Atoi(desc[1])
			if err != nil {
				continue
			}
			gpio.Pins[desc[0]] = gpio.GpioPinMode[mode] |
				gpio.GpioBankToBase[bank] |
				gpio.Pin(i)
		}
	}
}
