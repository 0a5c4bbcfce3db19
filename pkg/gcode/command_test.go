package gcode

import (
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantName    string
		wantParams  map[byte]float64
		wantComment string
	}{
		{
			name:     "basic move",
			line:     "G1 X102.5 Y98.2 E-1.2 F3600",
			wantName: "G1",
			wantParams: map[byte]float64{
				'X': 102.5, 'Y': 98.2, 'E': -1.2, 'F': 3600,
			},
		},
		{
			name:       "lowercase words",
			line:       "g1 x10 y-5.5",
			wantName:   "G1",
			wantParams: map[byte]float64{'X': 10, 'Y': -5.5},
		},
		{
			name:        "trailing comment",
			line:        "G1 X1 ; perimeter",
			wantName:    "G1",
			wantParams:  map[byte]float64{'X': 1},
			wantComment: "perimeter",
		},
		{
			name:        "comment only",
			line:        "; layer 2",
			wantComment: "layer 2",
		},
		{
			name: "blank",
			line: "   ",
		},
		{
			name:       "parenthesized comment",
			line:       "G1 (wipe) X5",
			wantName:   "G1",
			wantParams: map[byte]float64{'X': 5},
		},
		{
			name:       "valueless letters",
			line:       "G28 X Y",
			wantName:   "G28",
			wantParams: map[byte]float64{'X': 0, 'Y': 0},
		},
		{
			name:     "freeform text argument",
			line:     "M117 hello world",
			wantName: "M117",
		},
		{
			name:     "dotted command name",
			line:     "G92.1",
			wantName: "G92.1",
		},
		{
			name:       "extruder only",
			line:       "G1 E-2.00000 F1800",
			wantName:   "G1",
			wantParams: map[byte]float64{'E': -2, 'F': 1800},
		},
		{
			name:       "line number and checksum",
			line:       "N15 G1 X5 *97",
			wantName:   "G1",
			wantParams: map[byte]float64{'X': 5},
		},
		{
			name: "line number alone",
			line: "N16",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := ParseLine(tc.line)
			defer cmd.Release()

			if cmd.Name != tc.wantName {
				t.Errorf("expected name %q, got %q", tc.wantName, cmd.Name)
			}
			if cmd.Raw != tc.line {
				t.Errorf("expected raw line preserved, got %q", cmd.Raw)
			}
			if cmd.Comment != tc.wantComment {
				t.Errorf("expected comment %q, got %q", tc.wantComment, cmd.Comment)
			}
			for letter, want := range tc.wantParams {
				got, ok := cmd.Param(letter)
				if !ok {
					t.Errorf("expected param %c to be present", letter)
					continue
				}
				if got != want {
					t.Errorf("expected param %c = %v, got %v", letter, want, got)
				}
			}
			if tc.wantParams == nil {
				for letter := byte('A'); letter <= 'Z'; letter++ {
					if cmd.HasParam(letter) {
						t.Errorf("expected no params, found %c", letter)
					}
				}
			} else if len(cmd.Params) != len(tc.wantParams) {
				t.Errorf("expected %d params, got %d", len(tc.wantParams), len(cmd.Params))
			}
		})
	}
}

func TestParseLineEmpty(t *testing.T) {
	for _, line := range []string{"", "  ", "; comment", "(paren)"} {
		cmd := ParseLine(line)
		if !cmd.Empty() {
			t.Errorf("expected %q to parse as empty, got name %q", line, cmd.Name)
		}
		cmd.Release()
	}
}

func TestParseLineStopsAtFreeformWord(t *testing.T) {
	cmd := ParseLine("M117 3h remaining")
	defer cmd.Release()

	if cmd.Name != "M117" {
		t.Errorf("expected name M117, got %q", cmd.Name)
	}
	// "3h" does not start with an address letter, so argument parsing
	// stops before it.
	if len(cmd.Params) != 0 {
		t.Errorf("expected no params, got %v", cmd.Params)
	}
}

func TestCommandRelease(t *testing.T) {
	cmd := ParseLine("G1 X1 Y2")
	if !cmd.HasParam('X') {
		t.Fatal("expected param X before release")
	}

	cmd.Release()
	if cmd.Params != nil {
		t.Error("expected params to be nil after release")
	}
	if _, ok := cmd.Param('X'); ok {
		t.Error("expected no params after release")
	}

	// Releasing twice must be safe.
	cmd.Release()
}

func BenchmarkParseLine(b *testing.B) {
	for i := 0; i < b.N; i++ {
		cmd := ParseLine("G1 X102.500 Y98.200 E0.04521 F3600")
		cmd.Release()
	}
}
