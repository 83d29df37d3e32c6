// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input         string
		decimalPlaces int
		want          int64
		wantError     bool
	}{
		{"1.80", 2, 180, false},
		{"1.8", 2, 180, false},
		{"10", 2, 1000, false},
		{"0.05", 2, 5, false},
		{"10.00", 2, 1000, false},
		{"-3.60", 2, -360, false},
		{"500", 0, 500, false},
		{"1.500", 3, 1500, false},
		{"", 2, 0, true},
		{".", 2, 0, true},
		{"abc", 2, 0, true},
		{"1.2.3", 2, 0, true},
		{"1.805", 2, 0, true}, // more precision than the currency
		{"500.1", 0, 0, true},
		{"92233720368547758.07", 2, 9223372036854775807, false},
		{"92233720368547758.08", 2, 0, true},  // one minor unit past int64
		{"1844674407370955162.5", 2, 0, true}, // would wrap mod 2^64 to a small value
		{"9223372036854775808", 0, 0, true},
		{"922337203685477581", 1, 0, true}, // overflow in the scale-up step
	}
	for _, test := range tests {
		got, err := ParseAmount(test.input, test.decimalPlaces)
		if test.wantError {
			if err == nil {
				t.Errorf("ParseAmount(%q, %d) = %d, want error", test.input, test.decimalPlaces, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmount(%q, %d): %v", test.input, test.decimalPlaces, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseAmount(%q, %d) = %d, want %d", test.input, test.decimalPlaces, got, test.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor         int64
		decimalPlaces int
		want          string
	}{
		{360, 2, "3.60"},
		{1000, 2, "10.00"},
		{5, 2, "0.05"},
		{0, 2, "0.00"},
		{-360, 2, "-3.60"},
		{500, 0, "500"},
		{1500, 3, "1.500"},
	}
	for _, test := range tests {
		if got := FormatAmount(test.minor, test.decimalPlaces); got != test.want {
			t.Errorf("FormatAmount(%d, %d) = %q, want %q", test.minor, test.decimalPlaces, got, test.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "1.80", "6.40", "12345.67"} {
		minor, err := ParseAmount(s, 2)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", s, err)
		}
		if got := FormatAmount(minor, 2); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
}
