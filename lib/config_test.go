package lib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFanoutFor(t *testing.T) {
	tests := []struct {
		name   string
		fanout int
		n      int
		want   int
	}{
		{
			name: "degenerate single witness",
			n:    1,
			want: 0,
		},
		{
			name: "small set clamps to the floor",
			n:    3,
			want: 2,
		},
		{
			name: "derived from the connectivity bound",
			n:    7,
			want: 3,
		},
		{
			name: "large set",
			n:    100,
			want: 6,
		},
		{
			name:   "explicit fanout wins over derivation",
			fanout: 4,
			n:      100,
			want:   4,
		},
		{
			name: "derived fanout never exceeds the peer count",
			n:    2,
			want: 1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultGossipConfig()
			config.Fanout = test.fanout
			require.Equal(t, test.want, config.FanoutFor(test.n))
		})
	}
}

func TestConfigDurations(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, 1500*time.Millisecond, config.FallbackTimeout())
	require.Equal(t, 5*time.Minute, config.StaleInstanceTimeout())
	require.Equal(t, 300*time.Millisecond, config.TickInterval())
	require.True(t, config.EnablePipelining)
}

func TestConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := DefaultConfig()
	in.LogLevel = "debug"
	in.Fanout = 5
	require.NoError(t, SaveJSONToFile(in, dir, ConfigFilePath))
	out := Config{}
	require.NoError(t, NewJSONFromFile(&out, dir, ConfigFilePath))
	require.EqualValues(t, in, out)
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, DebugLevel, ParseLogLevel("debug"))
	require.Equal(t, WarnLevel, ParseLogLevel("WARNING"))
	require.Equal(t, ErrorLevel, ParseLogLevel("error"))
	require.Equal(t, InfoLevel, ParseLogLevel("anything else"))
}
