package utils

import "testing"

func TestParsePage(t *testing.T) {
	cases := []struct {
		offset, limit string
		wantOff       int
		wantLim       int
	}{
		{"", "", 0, 50},
		{"10", "20", 10, 20},
		{"-3", "9000", 0, 500},
		{"x", "0", 0, 1},
		{" 4", "y", 0, 50}, // no trimming
		{"999999999999999999999999", "", 0, 50},
	}
	for _, tc := range cases {
		off, lim := ParsePage(tc.offset, tc.limit, 50, 500)
		if off != tc.wantOff || lim != tc.wantLim {
			t.Fatalf("ParsePage(%q, %q) = %d, %d; want %d, %d", tc.offset, tc.limit, off, lim, tc.wantOff, tc.wantLim)
		}
	}
}

func TestClampPage_NoMax(t *testing.T) {
	if off, lim := ClampPage(5, 10000, 0); off != 5 || lim != 10000 {
		t.Fatalf("got %d, %d", off, lim)
	}
}
