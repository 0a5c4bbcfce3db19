//go:build !linux && !darwin

// Terminal detection fallback for other platforms
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import "os"

// isTerminal conservatively reports false on platforms without
// termios support, which disables colorized output.
func isTerminal(f *os.File) bool {
	return false
}
