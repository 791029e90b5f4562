// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/platinasystems/busfreq/lang"
)

type ByName map[string]Cmd

type manner interface {
	Man() lang.Alt
}

// Plot commands on map.
func (byName ByName) Plot(cmds ...Cmd) {
	for _, v := range cmds {
		name := v.String()
		if _, found := byName[name]; found {
			panic(fmt.Errorf("%s: duplicate", name))
		}
		byName[name] = v
	}
}

func (byName ByName) Keys() []string {
	keys := make([]string, 0, len(byName))
	for k := range byName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Main runs the args[0] command. The helpers print the command's text
// instead,
//
//	apropos [COMMAND]...
//	help | usage COMMAND
//
// Daemons are closed on SIGTERM.
func (byName ByName) Main(w io.Writer, args ...string) error {
	Swap(args)
	if len(args) == 0 {
		return fmt.Errorf("COMMAND: missing")
	}
	if _, found := Helpers[args[0]]; found {
		return byName.help(w, args[0], args[1:]...)
	}
	v, found := byName[args[0]]
	if !found {
		return fmt.Errorf("%s: command not found", args[0])
	}
	if WhatKind(v).IsDaemon() {
		if closer, found := v.(Closer); found {
			sigch := make(chan os.Signal, 1)
			signal.Notify(sigch, syscall.SIGTERM, syscall.SIGINT)
			defer signal.Stop(sigch)
			go func() {
				if _, ok := <-sigch; ok {
					closer.Close()
				}
			}()
		}
	}
	return v.Main(args[1:]...)
}

func (byName ByName) help(w io.Writer, helper string, args ...string) error {
	if helper == "apropos" {
		if len(args) == 0 {
			args = byName.Keys()
		}
		for _, name := range args {
			v, found := byName[name]
			if !found {
				return fmt.Errorf("%s: command not found", name)
			}
			fmt.Fprintf(w, "%-10s %s\n", name, v.Apropos())
		}
		return nil
	}
	switch len(args) {
	case 0:
		return fmt.Errorf("COMMAND: missing")
	case 1:
	default:
		return fmt.Errorf("%v: unexpected", args[1:])
	}
	v, found := byName[args[0]]
	if !found {
		return fmt.Errorf("%s: command not found", args[0])
	}
	s := "usage:\t" + v.Usage()
	if helper == "help" {
		if m, found := v.(manner); found {
			s += "\n" + m.Man().String()
		}
	}
	fmt.Fprintln(w, strings.TrimRight(s, "\n"))
	return nil
}
