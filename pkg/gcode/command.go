// G-code line parsing
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zipper177/Octolapse/pkg/pool"
)

// Command is one parsed G-code line. Params maps the address letter of
// each word to its numeric value; words that carry no value are recorded
// as 0 so presence can still be tested. Raw preserves the unmodified
// source line for pass-through output.
type Command struct {
	Name    string
	Params  map[byte]float64
	Raw     string
	Comment string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// ParseLine parses a single G-code line. Blank lines and comment-only
// lines yield a Command with an empty Name. Parsing is lenient: words
// after the first non-numeric argument are treated as freeform text
// (as in "M117 hello") and ignored.
//
// The returned Params map comes from a shared pool; call Release when
// the command is no longer needed.
func ParseLine(line string) Command {
	cmd := Command{Raw: line}

	working := strings.TrimSpace(line)
	if working == "" {
		return cmd
	}

	// Strip the trailing semicolon comment but keep its text around.
	if idx := strings.IndexByte(working, ';'); idx >= 0 {
		cmd.Comment = strings.TrimSpace(working[idx+1:])
		working = strings.TrimSpace(working[:idx])
	}
	if working == "" {
		return cmd
	}

	// Parenthesized comments can appear mid-line.
	if strings.IndexByte(working, '(') >= 0 {
		working = strings.TrimSpace(reParenComment.ReplaceAllString(working, " "))
	}

	// Checksummed input ends with *nn; nothing after the star is part
	// of the command.
	if idx := strings.IndexByte(working, '*'); idx >= 0 {
		working = strings.TrimSpace(working[:idx])
	}
	if working == "" {
		return cmd
	}

	fields := strings.Fields(working)

	// Host-streamed files carry Nxxx line numbers ahead of the command.
	if first := fields[0]; len(first) > 1 &&
		(first[0] == 'N' || first[0] == 'n') &&
		first[1] >= '0' && first[1] <= '9' {
		fields = fields[1:]
		if len(fields) == 0 {
			return cmd
		}
	}

	cmd.Name = strings.ToUpper(fields[0])
	cmd.Params = pool.GetParamsMap()

	for _, f := range fields[1:] {
		letter := f[0]
		if letter >= 'a' && letter <= 'z' {
			letter -= 'a' - 'A'
		}
		if letter < 'A' || letter > 'Z' {
			break
		}
		if len(f) == 1 {
			cmd.Params[letter] = 0
			continue
		}
		value, err := strconv.ParseFloat(f[1:], 64)
		if err != nil {
			break
		}
		cmd.Params[letter] = value
	}

	return cmd
}

// Empty reports whether the line carried no command at all.
func (c Command) Empty() bool {
	return c.Name == ""
}

// Param returns the value of the given address letter.
func (c Command) Param(letter byte) (float64, bool) {
	if c.Params == nil {
		return 0, false
	}
	v, ok := c.Params[letter]
	return v, ok
}

// HasParam reports whether the given address letter is present.
func (c Command) HasParam(letter byte) bool {
	_, ok := c.Param(letter)
	return ok
}

// Release returns the parameter map to the shared pool. The command must
// not be used afterwards.
func (c *Command) Release() {
	if c.Params != nil {
		pool.PutParamsMap(c.Params)
		c.Params = nil
	}
}
