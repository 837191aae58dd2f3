package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationMs normalizes a duration value — a bare number of seconds, or
// a string of the form "Ns|Nm|Nh|Nd" — to milliseconds. A plain numeric
// string is accepted as seconds for parity with the integer-seconds form.
func ParseDurationMs(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v) * 1000, nil
	case int64:
		return v * 1000, nil
	case float64:
		return int64(v * 1000), nil
	case string:
		return parseDurationString(v)
	default:
		return 0, fmt.Errorf("config: unsupported duration value type %T", raw)
	}
}

func parseDurationString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(n * 1000), nil
	}

	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q", s)
	}

	var unitMs float64
	switch unit {
	case 's', 'S':
		unitMs = float64(time.Second / time.Millisecond)
	case 'm', 'M':
		unitMs = float64(time.Minute / time.Millisecond)
	case 'h', 'H':
		unitMs = float64(time.Hour / time.Millisecond)
	case 'd', 'D':
		unitMs = float64(24 * time.Hour / time.Millisecond)
	default:
		return 0, fmt.Errorf("config: invalid duration unit in %q", s)
	}
	return int64(n * unitMs), nil
}

// ParseSizeBytes normalizes a size value — a bare number of bytes, or a
// string of the form "Nb|Nkb|Nmb|Ngb" — to bytes. Decimal multipliers are
// allowed ("1.5gb"); the result must be a safe non-negative integer.
func ParseSizeBytes(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return parseSizeString(v)
	default:
		return 0, fmt.Errorf("config: unsupported size value type %T", raw)
	}
}

func parseSizeString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	lower := strings.ToLower(s)
	if n, err := strconv.ParseFloat(lower, 64); err == nil {
		return safeSize(n)
	}

	units := []struct {
		suffix string
		mult   float64
	}{
		{"gb", 1 << 30},
		{"mb", 1 << 20},
		{"kb", 1 << 10},
		{"b", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(lower, u.suffix) {
			numPart := strings.TrimSuffix(lower, u.suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("config: invalid size %q", s)
			}
			return safeSize(n * u.mult)
		}
	}
	return 0, fmt.Errorf("config: invalid size %q", s)
}

func safeSize(n float64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("config: size must be non-negative, got %v", n)
	}
	if n > (1 << 53) {
		return 0, fmt.Errorf("config: size %v exceeds safe integer range", n)
	}
	return int64(n), nil
}
