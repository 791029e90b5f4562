// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package busfreq shows and sets the internal bus frequency through the
// busfreqd redis fields.
package busfreq

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/platinasystems/busfreq/cmd/busfreqd"
	"github.com/platinasystems/busfreq/lang"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/redis"
)

const Name = "busfreq"

type Command struct{}

func (Command) String() string { return Name }

func (Command) Usage() string {
	return Name + ` [-q] [show | table | set KHZ | volt [KHZ] UV... | cold true|false]`
}

func (Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "show or set the internal bus frequency",
	}
}

func (Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	With no arguments or "show", print the committed bus frequency,
	voltage, cold condition, and load counters.

	"table" lists each operating point with its voltage and the
	time spent there in 10ms ticks.

	"set KHZ" requests a transition to an available frequency.

	"volt KHZ UV" overrides one level's voltage; "volt UV..." overrides
	the available levels in table order.

	"cold true|false" reports a thermal edge.

OPTIONS
	-q	don't print the hset reply`,
	}
}

// hash is the redis client surface used by the command.
type hash interface {
	Hget(key, field string) (string, error)
	Hkeys(key string) ([]string, error)
	Hset(key, field string, v interface{}) (int, error)
}

type client struct{}

func (client) Hget(key, field string) (string, error) {
	return redis.Hget(key, field)
}

func (client) Hkeys(key string) ([]string, error) {
	return redis.Hkeys(key)
}

func (client) Hset(key, field string, v interface{}) (int, error) {
	return redis.Hset(key, field, v)
}

func (Command) Main(args ...string) error {
	flag, args := flags.New(args, "-q")
	return run(os.Stdout, client{}, flag.ByName["-q"], args...)
}

func run(w io.Writer, h hash, quiet bool, args ...string) error {
	if len(args) == 0 {
		args = []string{"show"}
	}
	var field string
	var value string
	switch args[0] {
	case "show":
		if len(args) > 1 {
			return fmt.Errorf("%v: unexpected", args[1:])
		}
		return show(w, h)
	case "table":
		if len(args) > 1 {
			return fmt.Errorf("%v: unexpected", args[1:])
		}
		return table(w, h)
	case "set":
		switch len(args) {
		case 1:
			return fmt.Errorf("KHZ: missing")
		case 2:
		default:
			return fmt.Errorf("%v: unexpected", args[2:])
		}
		if _, err := strconv.ParseUint(args[1], 10, 32); err != nil {
			return fmt.Errorf("%s: %v", args[1], err)
		}
		field, value = busfreqd.FreqKHz, args[1]
	case "volt":
		if len(args) == 1 {
			return fmt.Errorf("UV: missing")
		}
		for _, s := range args[1:] {
			if _, err := strconv.ParseUint(s, 10, 32); err != nil {
				return fmt.Errorf("%s: %v", s, err)
			}
		}
		field, value = busfreqd.VoltTable, strings.Join(args[1:], " ")
	case "cold":
		switch len(args) {
		case 1:
			return fmt.Errorf("true|false: missing")
		case 2:
		default:
			return fmt.Errorf("%v: unexpected", args[2:])
		}
		cold, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("%s: %v", args[1], err)
		}
		field, value = busfreqd.Cold, strconv.FormatBool(cold)
	default:
		return fmt.Errorf("%s: unknown", args[0])
	}
	i, err := h.Hset(redis.DefaultHash, field, value)
	if err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintln(w, i)
	}
	return nil
}

func show(w io.Writer, h hash) error {
	for _, x := range []struct {
		label, field string
	}{
		{"frequency", busfreqd.FreqKHz},
		{"voltage", busfreqd.VoltUV},
		{"cold", busfreqd.Cold},
		{"busy", busfreqd.Busy},
		{"total", busfreqd.Total},
	} {
		s, err := h.Hget(redis.DefaultHash, x.field)
		if err != nil {
			return fmt.Errorf("%s: %v", x.field, err)
		}
		switch x.field {
		case busfreqd.FreqKHz:
			s += " kHz"
		case busfreqd.VoltUV:
			s += " uV"
		}
		fmt.Fprintf(w, "%-10s %s\n", x.label+":", s)
	}
	return nil
}

func table(w io.Writer, h hash) error {
	keys, err := h.Hkeys(redis.DefaultHash)
	if err != nil {
		return err
	}
	volts := fields(keys, busfreqd.VoltTable+".")
	ticks := fields(keys, busfreqd.TimeInState+".")
	freqs := make([]uint64, 0, len(ticks))
	for s := range ticks {
		if f, err := strconv.ParseUint(s, 10, 32); err == nil {
			freqs = append(freqs, f)
		}
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] > freqs[j] })
	rows := make([]row, 0, len(freqs))
	for _, f := range freqs {
		khz := strconv.FormatUint(f, 10)
		r := row{freq: khz, volt: "-"}
		if r.ticks, err = h.Hget(redis.DefaultHash, ticks[khz]); err != nil {
			return err
		}
		if field, found := volts[khz]; found {
			if r.volt, err = h.Hget(redis.DefaultHash, field); err != nil {
				return err
			}
		}
		rows = append(rows, r)
	}
	_, err = io.WriteString(w, format(rows))
	return err
}

type row struct {
	freq, volt, ticks string
}

// format aligns the rows under a header. Levels without a voltage are
// unavailable on the board.
func format(rows []row) string {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "%8s %8s %10s\n", "kHz", "uV", "ticks")
	for _, r := range rows {
		fmt.Fprintf(buf, "%8s %8s %10s\n", r.freq, r.volt, r.ticks)
	}
	return buf.String()
}

// fields maps the suffix of each key with the given prefix to the key.
func fields(keys []string, prefix string) map[string]string {
	m := make(map[string]string)
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			m[strings.TrimPrefix(k, prefix)] = k
		}
	}
	return m
}
