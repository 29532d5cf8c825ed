package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"prod":    slog.LevelError,
		"bogus":   slog.LevelError,
	}
	for env, want := range cases {
		t.Setenv("LOG_LEVEL", env)
		assert.Equal(t, want, LevelFromEnv(), env)
	}
}

func TestPionFactoryRespectsLevel(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	f := PionFactory{Logger: New(&buf, slog.LevelWarn)}

	l := f.NewLogger("ice")
	l.Debugf("candidate %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("lost %s", "binding")
	out := buf.String()
	assert.Contains(t, out, "lost binding")
	assert.Contains(t, out, "scope=ice")
}
