package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationMs(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{30, 30000},
		{"30s", 30000},
		{"1m", 60000},
		{"2h", 7200000},
		{"1d", 86400000},
		{nil, 0},
	}
	for _, c := range cases {
		got, err := ParseDurationMs(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "input %v", c.in)
	}
}

func TestParseDurationMsInvalid(t *testing.T) {
	_, err := ParseDurationMs("30x")
	assert.Error(t, err)
}

func TestParseSizeBytes(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{1024, 1024},
		{"50mb", 50 * (1 << 20)},
		{"1gb", 1 << 30},
		{"10kb", 10 * (1 << 10)},
		{"100b", 100},
		{"1.5mb", int64(1.5 * (1 << 20))},
	}
	for _, c := range cases {
		got, err := ParseSizeBytes(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "input %v", c.in)
	}
}

func TestParseSizeBytesRejectsNegative(t *testing.T) {
	_, err := ParseSizeBytes("-1mb")
	assert.Error(t, err)
}
