package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, tc := range []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{}, false},
		{Config{Level: "debug", Dev: true}, false},
		{Config{Level: "warn"}, false},
		{Config{Level: "loud"}, true},
	} {
		l, err := New(tc.cfg)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("level %q: expected error", tc.cfg.Level)
			}
			continue
		}
		if err != nil {
			t.Fatalf("level %q: %v", tc.cfg.Level, err)
		}
		if tc.cfg.Level == "warn" && l.Core().Enabled(zapcore.DebugLevel) {
			t.Fatal("warn logger must not emit debug")
		}
	}
}
