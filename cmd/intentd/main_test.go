package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubServer(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := startServer
	startServer = func(io.Writer) int {
		calls++
		return 0
	}
	t.Cleanup(func() { startServer = orig })
	return &calls
}

func TestRunDefaultsToServer(t *testing.T) {
	calls := stubServer(t)
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, Run([]string{"intentd"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"intentd", "serve"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"intentd", "--some-flag"}, &out, &errOut))
	assert.Equal(t, 3, *calls)
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, Run([]string{"intentd", "help"}, &out, &errOut))
	assert.Contains(t, out.String(), "Usage: intentd")
}

func TestRunUnknownCommand(t *testing.T) {
	stubServer(t)
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"intentd", "bogus"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command")
}

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, Run([]string{"intentd", "version"}, &out, &errOut))
	assert.True(t, strings.HasPrefix(out.String(), "intentd "))
}

func TestExportRequiresIntentFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, Run([]string{"intentd", "export"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "--intent is required")
}

func TestLoggerLevels(t *testing.T) {
	for _, lvl := range []string{"DEBUG", "INFO", "WARN", "ERROR", "garbage"} {
		assert.NotNil(t, newLogger(lvl))
	}
}
