package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input string
		want  Frequency
	}{
		{"15m", Frequency{N: 15, Unit: "m"}},
		{"2h", Frequency{N: 2, Unit: "h"}},
		{"1d", Frequency{N: 1, Unit: "d"}},
		{"1w", Frequency{N: 1, Unit: "w"}},
		{"3mo", Frequency{N: 3, Unit: "mo"}},
		{"1y", Frequency{N: 1, Unit: "y"}},
		{" 2h ", Frequency{N: 2, Unit: "h"}},
	}

	for _, tt := range tests {
		got, err := ParseFrequency(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestParseFrequency_Invalid(t *testing.T) {
	for _, input := range []string{"", "h", "2", "2fortnights", "2H", "-1h", "0d", "2 h"} {
		_, err := ParseFrequency(input)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, ErrBadFrequency, input)
	}
}

func TestFrequency_Duration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Frequency{N: 15, Unit: "m"}.Duration())
	assert.Equal(t, 2*time.Hour, Frequency{N: 2, Unit: "h"}.Duration())
	assert.Equal(t, 7*24*time.Hour, Frequency{N: 1, Unit: "w"}.Duration())
	assert.Equal(t, 30*24*time.Hour, Frequency{N: 1, Unit: "mo"}.Duration())
	assert.Equal(t, 365*24*time.Hour, Frequency{N: 1, Unit: "y"}.Duration())
}

func TestParseRetentionRule(t *testing.T) {
	rule, err := ParseRetentionRule("24h:2")
	require.NoError(t, err)
	assert.Equal(t, RetentionRule{Magnitude: 24, Unit: "h", Keep: 2}, rule)
	assert.Equal(t, 24*time.Hour, rule.Window())
	assert.Equal(t, "24h:2", rule.String())
}

func TestParseRetentionRule_Invalid(t *testing.T) {
	for _, input := range []string{"24h", "h:2", "24h:", "24h:-1", "24h:two"} {
		_, err := ParseRetentionRule(input)
		require.Error(t, err, input)
	}
}

func TestSnapshot_ShortNameAndOurs(t *testing.T) {
	snap := Snapshot{Name: "tank/vm@autosnap_2026-08-29_00:00:01"}
	assert.Equal(t, "autosnap_2026-08-29_00:00:01", snap.ShortName())
	assert.True(t, snap.Ours("autosnap_"))

	foreign := Snapshot{Name: "tank/vm@manual-before-upgrade"}
	assert.False(t, foreign.Ours("autosnap_"))
}

func TestDestination(t *testing.T) {
	local := Destination{Path: "backup/vm"}
	assert.False(t, local.Remote())
	assert.Equal(t, "backup", local.Pool())
	assert.Equal(t, "backup/vm", local.String())

	remote := Destination{Host: "nas", Path: "pool2"}
	assert.True(t, remote.Remote())
	assert.Equal(t, "pool2", remote.Pool())
	assert.Equal(t, "nas:pool2", remote.String())
}

func TestOption_Flag(t *testing.T) {
	assert.Equal(t, "--recursive", Option{Name: "recursive"}.Flag())
	assert.Equal(t, "--compress=zstd", Option{Name: "compress", Value: "zstd"}.Flag())
}

func TestScheduleEntry_CronFields(t *testing.T) {
	e := ScheduleEntry{Minute: "0", Hour: "*/2", DayOfMonth: "*", Month: "*", DayOfWeek: "*"}
	assert.Equal(t, "0 */2 * * *", e.CronFields())
}
