//go:build linux

// Terminal detection on Linux
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"os"

	"golang.org/x/sys/unix"
)

// isTerminal reports whether f refers to a terminal device.
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
