// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package engine

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("bus frequency engine closed")

// Kind classifies engine failures.
type Kind int

const (
	InvalidOperatingPoint Kind = iota + 1
	ClockProviderFailure
	RegulatorFailure
	InitializationFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidOperatingPoint:
		return "invalid operating point"
	case ClockProviderFailure:
		return "clock provider failure"
	case RegulatorFailure:
		return "regulator failure"
	case InitializationFailure:
		return "initialization failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprint(e.Kind, ": ", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is, or wraps, an engine Error of the kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func fail(k Kind, err error) error {
	return &Error{Kind: k, Err: err}
}
