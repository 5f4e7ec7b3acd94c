package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitAndSetLevel(t *testing.T) {
	if err := Init("warn", "text"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if Level() != "warn" {
		t.Errorf("Level() = %s, want warn", Level())
	}
	if GetZapLogger().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if !GetZapLogger().Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled after SetLevel(debug)")
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel() should reject unknown levels")
	}
	if Level() != "debug" {
		t.Errorf("failed SetLevel changed level to %s", Level())
	}

	if WithFields(map[string]interface{}{"component": "test"}) == nil {
		t.Error("WithFields() returned nil after Init")
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	if err := Init("chatty", "json"); err == nil {
		t.Error("Init() should fail for an unknown level")
	}
}
