// Copyright © 2015-2017 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package test provides assertions for the busfreq package tests.
package test

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"
)

// Assert wraps a testing.Test or Benchmark with several assertions.
type Assert struct {
	testing.TB
}

// Nil asserts that there is no error
func (assert Assert) Nil(err error) {
	assert.Helper()
	if err != nil {
		assert.Fatal(err)
	}
}

// Error asserts that an error wraps the given error, equals the given
// string, or matches the given regex
func (assert Assert) Error(err error, v interface{}) {
	assert.Helper()
	switch t := v.(type) {
	case error:
		if !errors.Is(err, t) {
			assert.Fatalf("%v: expected %q", err, t.Error())
		}
	case string:
		if err == nil || err.Error() != t {
			assert.Fatalf("%v: expected %q", err, t)
		}
	case *regexp.Regexp:
		if err == nil || !t.MatchString(err.Error()) {
			assert.Fatalf("%v: expected %q", err, t.String())
		}
	default:
		assert.Fatal("can't match:", t)
	}
}

// Equal asserts string equality.
func (assert Assert) Equal(s, expect string) {
	assert.Helper()
	if s != expect {
		assert.Fatalf("%q\n\t!= %q", s, expect)
	}
}

// Same asserts deep equality of any two values.
func (assert Assert) Same(v, expect interface{}) {
	assert.Helper()
	if !reflect.DeepEqual(v, expect) {
		assert.Fatalf("%#v\n\t!= %#v", v, expect)
	}
}

// Lines asserts that the given lines equal the expected lines.
func (assert Assert) Lines(lines []string, expect ...string) {
	assert.Helper()
	if !reflect.DeepEqual(lines, expect) {
		assert.Fatalf("\n\t%s\n!=\n\t%s",
			strings.Join(lines, "\n\t"),
			strings.Join(expect, "\n\t"))
	}
}

// True asserts flag.
func (assert Assert) True(t bool) {
	assert.Helper()
	if !t {
		assert.Fatal("not true")
	}
}

// False is not True.
func (assert Assert) False(t bool) {
	assert.Helper()
	if t {
		assert.Fatal("not false")
	}
}
