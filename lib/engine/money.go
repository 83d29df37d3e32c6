// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"strings"
)

// ParseAmount converts a major-unit decimal string ("1.80") to minor
// units using the given number of decimal places. Parsing is exact —
// no floating point is involved anywhere in the money path. Fractional
// digits beyond the currency's decimal places are rejected rather than
// rounded: the kernel has no rounding policy, the caller does.
func ParseAmount(s string, decimalPlaces int) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	rest := s
	switch s[0] {
	case '-':
		negative = true
		rest = s[1:]
	case '+':
		rest = s[1:]
	}

	wholePart := rest
	fractionPart := ""
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		wholePart = rest[:dot]
		fractionPart = rest[dot+1:]
	}
	if wholePart == "" && fractionPart == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(fractionPart) > decimalPlaces {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimalPlaces)
	}

	var minor int64
	for _, c := range wholePart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		digit := int64(c - '0')
		if minor > (maxInt64-digit)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		minor = minor*10 + digit
	}
	for _, c := range fractionPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		digit := int64(c - '0')
		if minor > (maxInt64-digit)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		minor = minor*10 + digit
	}
	// Scale up for omitted fractional digits ("1.8" at 2 places is 180).
	for i := len(fractionPart); i < decimalPlaces; i++ {
		if minor > maxInt64/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		minor *= 10
	}

	if negative {
		minor = -minor
	}
	return minor, nil
}

const maxInt64 = int64(^uint64(0) >> 1)

// FormatAmount renders minor units as a major-unit decimal string with
// exactly decimalPlaces fractional digits ("360" at 2 places is
// "3.60"). Zero decimal places renders with no point at all.
func FormatAmount(minor int64, decimalPlaces int) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if decimalPlaces == 0 {
		return fmt.Sprintf("%s%d", sign, minor)
	}
	scale := int64(1)
	for i := 0; i < decimalPlaces; i++ {
		scale *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, minor/scale, decimalPlaces, minor%scale)
}
