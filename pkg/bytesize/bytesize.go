// Package bytesize provides human-friendly byte size parsing and formatting.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// unitMultipliers maps unit suffixes to their byte values (1024-based).
var unitMultipliers = map[string]int64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// Parse parses a human-friendly byte size string.
//
// Supported units: B, KB, MB, GB, TB (case-insensitive, 1024-based).
//
// Examples:
//
//	Parse("512MB")  // 536870912 bytes
//	Parse("1.5GB")  // 1610612736 bytes
func Parse(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Try longest suffix first to avoid matching "B" before "KB".
	units := []string{"TB", "GB", "MB", "KB", "B"}
	var unit, valueStr string
	for _, u := range units {
		if strings.HasSuffix(s, u) {
			unit = u
			valueStr = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	if unit == "" {
		return 0, fmt.Errorf("invalid size %q: missing unit (supported: B, KB, MB, GB, TB)", s)
	}
	if valueStr == "" {
		return 0, fmt.Errorf("invalid size %q: missing numeric value", s)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q in %q: %w", valueStr, s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid size %q: negative value not allowed", s)
	}

	result := value * float64(unitMultipliers[unit])
	if result > math.MaxInt64 {
		return 0, fmt.Errorf("size %q exceeds maximum allowed value", s)
	}
	return int64(result), nil
}

// Format renders a byte count using the largest unit that keeps the value
// above 1, with one decimal place for fractional values.
//
//	Format(536870912) // "512 MB"
//	Format(1610612736) // "1.5 GB"
func Format(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	units := []struct {
		suffix string
		size   int64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
	}
	for _, u := range units {
		if n >= u.size {
			v := float64(n) / float64(u.size)
			if v == math.Trunc(v) {
				return fmt.Sprintf("%d %s", int64(v), u.suffix)
			}
			return fmt.Sprintf("%.1f %s", v, u.suffix)
		}
	}
	return fmt.Sprintf("%d B", n)
}
