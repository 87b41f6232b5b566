// Package sizeutil parses and formats the K/M/G/T size strings accepted on
// the command line (§6 of the spec): a decimal magnitude, an optional
// case-insensitive K/M/G/T unit, and an optional trailing B or iB, meaning
// powers of 1024.
package sizeutil

import (
	"fmt"
	"strconv"
	"strings"
)

var unitShift = map[byte]uint{
	'K': 10,
	'M': 20,
	'G': 30,
	'T': 40,
}

// Parse converts a size string like "64G", "512MiB", or "4096" (bytes, no
// unit) into a byte count.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	upper := strings.ToUpper(s)
	upper = strings.TrimSuffix(upper, "IB")
	upper = strings.TrimSuffix(upper, "B")
	if upper == "" {
		return 0, fmt.Errorf("invalid size string %q", s)
	}

	unitByte := upper[len(upper)-1]
	shift, hasUnit := unitShift[unitByte]
	numPart := upper
	if hasUnit {
		numPart = upper[:len(upper)-1]
	}
	if numPart == "" {
		return 0, fmt.Errorf("invalid size string %q: missing magnitude", s)
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size string %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size string %q: negative", s)
	}

	if !hasUnit {
		return n, nil
	}
	return n << shift, nil
}

// Format renders a byte count using the largest unit that divides it evenly,
// falling back to bytes. The result round-trips through Parse.
func Format(bytes int64) string {
	units := []struct {
		suffix string
		shift  uint
	}{
		{"T", 40},
		{"G", 30},
		{"M", 20},
		{"K", 10},
	}
	for _, u := range units {
		size := int64(1) << u.shift
		if bytes > 0 && bytes%size == 0 {
			return fmt.Sprintf("%d%s", bytes/size, u.suffix)
		}
	}
	return strconv.FormatInt(bytes, 10)
}
