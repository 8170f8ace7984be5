package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"Debug level", "DEBUG", zerolog.DebugLevel},
		{"Warn level", "warn", zerolog.WarnLevel},
		{"Error level", "error", zerolog.ErrorLevel},
		{"Disabled", "off", zerolog.Disabled},
		{"Empty defaults to Info", "", zerolog.InfoLevel},
		{"Invalid defaults to Info", "INVALID", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ParseLevel(tt.level))
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "production", "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Str("key", "authsession:tokens").Msg("corrupt entry")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "corrupt entry")
	require.Contains(t, out, "env=production")
}
