package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosityLevel(t *testing.T) {
	tcs := []struct {
		Description string
		Level       string
		Verbose     int
		Expected    string
	}{
		{Description: "quiet keeps config", Level: "warn", Verbose: 0, Expected: "warn"},
		{Description: "single v", Level: "info", Verbose: 1, Expected: "debug"},
		{Description: "debug flag", Level: "info", Verbose: 2, Expected: "trace"},
		{Description: "already trace", Level: "trace", Verbose: 1, Expected: "trace"},
		{Description: "invalid level", Level: "loud", Verbose: 0, Expected: "info"},
	}
	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			assert.Equal(t, tc.Expected, VerbosityLevel(tc.Level, tc.Verbose))
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "json")
	log.Debug().Str("path", "a.log").Msg("skip")
	assert.Contains(t, buf.String(), `"path":"a.log"`)
	assert.Contains(t, buf.String(), `"level":"debug"`)
}

func TestNewFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "json")
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
