// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// This is the internal bus frequency coordinator. Run as busfreqd, or
// through a link of that name, it's the daemon; as busfreq, the command.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinasystems/busfreq/cmd"
	"github.com/platinasystems/busfreq/cmd/busfreq"
	"github.com/platinasystems/busfreq/cmd/busfreqd"
	"github.com/platinasystems/redis"
)

func main() {
	redis.DefaultHash = "platina"
	byName := make(cmd.ByName)
	byName.Plot(new(busfreqd.Command), busfreq.Command{})
	args := os.Args
	if len(args) > 0 {
		args[0] = filepath.Base(args[0])
		if _, found := byName[args[0]]; !found {
			if _, found = cmd.Helpers[args[0]]; !found {
				args = args[1:]
			}
		}
	}
	if err := byName.Main(os.Stdout, args...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
