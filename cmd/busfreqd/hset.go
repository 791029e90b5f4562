// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package busfreqd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/platinasystems/redis/rpc/args"
	"github.com/platinasystems/redis/rpc/reply"
)

// Hset handles the writable fields,
//
//	busfreq.freq.khz KHZ
//	busfreq.volt_table "KHZ UV" | "UV..."
//	busfreq.cold true|false
func (i *Info) Hset(args args.Hset, reply *reply.Hset) error {
	v := strings.TrimSpace(string(args.Value))
	var err error
	switch args.Field {
	case FreqKHz:
		var khz uint64
		khz, err = strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %v", args.Field, err)
		}
		err = i.eng.RequestFrequency(uint32(khz))
	case VoltTable:
		err = i.setVoltTable(v)
		if err == nil {
			i.publishTables()
		}
	case Cold:
		var cold bool
		cold, err = strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %v", args.Field, err)
		}
		err = i.eng.ThermalEdge(cold)
	default:
		return fmt.Errorf("cannot hset: %s", args.Field)
	}
	if err != nil {
		return err
	}
	*reply = 1
	return nil
}

// setVoltTable takes two values as a frequency and its voltage, otherwise
// a voltage for each available level in table order.
func (i *Info) setVoltTable(s string) error {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return fmt.Errorf("%s: empty", VoltTable)
	}
	vs := make([]uint32, len(fields))
	for j, field := range fields {
		u, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %v", VoltTable, err)
		}
		vs[j] = uint32(u)
	}
	if len(vs) == 2 {
		return i.eng.SetVoltage(vs[0], vs[1])
	}
	return i.eng.SetVoltageTable(vs)
}
