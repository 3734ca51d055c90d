package main

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("-0.2, 51.4,0.0,51.6")
	if err != nil {
		t.Fatalf("parseBBox: %v", err)
	}
	want := orb.Bound{Min: orb.Point{-0.2, 51.4}, Max: orb.Point{0, 51.6}}
	if !b.Equal(want) {
		t.Errorf("bound = %v, want %v", b, want)
	}

	for _, bad := range []string{"", "1,2,3", "a,1,2,3", "1,2,0,3", "0,0,200,10", "0,-95,1,1"} {
		if _, err := parseBBox(bad); err == nil {
			t.Errorf("parseBBox(%q) succeeded", bad)
		}
	}
}

func TestParseZooms(t *testing.T) {
	tests := []struct {
		in       string
		min, max int
		ok       bool
	}{
		{"10", 10, 10, true},
		{"10-12", 10, 12, true},
		{" 3 - 5 ", 3, 5, true},
		{"0-17", 0, 17, true},
		{"12-10", 0, 0, false},
		{"18", 0, 0, false},
		{"x", 0, 0, false},
		{"1-y", 0, 0, false},
	}
	for _, tt := range tests {
		lo, hi, err := parseZooms(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseZooms(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && (lo != tt.min || hi != tt.max) {
			t.Errorf("parseZooms(%q) = %d, %d; want %d, %d", tt.in, lo, hi, tt.min, tt.max)
		}
	}
}

func TestTilesIn(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-179.9, -85}, Max: orb.Point{179.9, 85}}
	if n := tilesIn(world, 0); n != 1 {
		t.Errorf("zoom 0 = %d tiles, want 1", n)
	}
	if n := tilesIn(world, 2); n != 16 {
		t.Errorf("zoom 2 = %d tiles, want 16", n)
	}
}
