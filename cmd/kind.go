// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package cmd

const (
	Daemon Kind = 1 << iota
	Hidden
)

func WhatKind(v Cmd) Kind {
	if m, found := v.(kinder); found {
		return m.Kind()
	}
	return 0
}

type kinder interface {
	Kind() Kind
}

type Kind uint16

func (k Kind) IsDaemon() bool      { return (k & Daemon) == Daemon }
func (k Kind) IsHidden() bool      { return (k & Hidden) == Hidden }
func (k Kind) IsInteractive() bool { return (k & (Daemon | Hidden)) == 0 }

func (k Kind) String() string {
	switch k {
	case Daemon:
		return "daemon"
	case Hidden:
		return "hidden"
	case 0:
		return "interactive"
	}
	return "unknown"
}
