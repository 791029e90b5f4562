// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package ppmu samples the bus performance monitor's cycle counters.
package ppmu

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
)

// File holds "BUSY TOTAL" cycles, as exported by the devfreq load node.
type File string

func (f File) Counters() (busy, total uint64, err error) {
	b, err := ioutil.ReadFile(string(f))
	if err != nil {
		return
	}
	return Parse(string(b))
}

// Parse returns the busy and total counts of "BUSY TOTAL" text.
func Parse(s string) (busy, total uint64, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		err = fmt.Errorf("%q: expected BUSY TOTAL", s)
		return
	}
	if busy, err = strconv.ParseUint(fields[0], 0, 64); err != nil {
		return
	}
	if total, err = strconv.ParseUint(fields[1], 0, 64); err != nil {
		return
	}
	if busy > total {
		err = fmt.Errorf("busy %d exceeds total %d", busy, total)
	}
	return
}
