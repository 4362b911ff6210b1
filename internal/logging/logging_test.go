package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
		{"  warn  ", zerolog.WarnLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestInitSetsGlobalLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Init(Config{Level: "error", Format: "json", Component: "test"})
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}

func TestSelectWriterAutoFollowsTerminalDetection(t *testing.T) {
	orig := isTerminalFn
	defer func() { isTerminalFn = orig }()

	isTerminalFn = func(int) bool { return true }
	_, isConsole := selectWriter("auto").(zerolog.ConsoleWriter)
	assert.True(t, isConsole, "a terminal stderr selects the console writer")

	isTerminalFn = func(int) bool { return false }
	_, isConsole = selectWriter("auto").(zerolog.ConsoleWriter)
	assert.False(t, isConsole, "a piped stderr selects plain JSON output")
}

func TestSelectWriterExplicitFormatsIgnoreTerminal(t *testing.T) {
	orig := isTerminalFn
	defer func() { isTerminalFn = orig }()
	isTerminalFn = func(int) bool { return true }

	_, isConsole := selectWriter("json").(zerolog.ConsoleWriter)
	assert.False(t, isConsole)

	_, isConsole = selectWriter("console").(zerolog.ConsoleWriter)
	assert.True(t, isConsole)
}
