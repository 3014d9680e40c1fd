package main

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestParseDateFlag(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantNil bool
		wantErr bool
	}{
		{input: "", wantNil: true},
		{input: "2026-08-01", want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{input: "2026-08-01T12:30:00Z", want: time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)},
		{input: "yesterday", wantErr: true},
		{input: "08/01/2026", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDateFlag(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseDateFlag(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDateFlag(%q) error = %v", tt.input, err)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseDateFlag(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if got == nil || !got.Equal(tt.want) {
				t.Errorf("parseDateFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSinkFlagsBuild(t *testing.T) {
	tests := []struct {
		name    string
		flags   sinkFlags
		wantErr bool
	}{
		{name: "no sink", flags: sinkFlags{}, wantErr: true},
		{name: "both sinks", flags: sinkFlags{sheetURL: "http://a", webhookURL: "http://b"}, wantErr: true},
		{name: "sheet only", flags: sinkFlags{sheetURL: "http://a"}},
		{name: "webhook only", flags: sinkFlags{webhookURL: "http://b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.flags.build(testLogger())
			if tt.wantErr {
				if err == nil {
					t.Error("build() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("build() error = %v", err)
			}
			if s == nil {
				t.Error("build() returned nil sink")
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("PAGEPUMP_TEST_VAR", "set")
	if got := getEnv("PAGEPUMP_TEST_VAR", "default"); got != "set" {
		t.Errorf("getEnv = %q, want set", got)
	}
	if got := getEnv("PAGEPUMP_TEST_MISSING", "default"); got != "default" {
		t.Errorf("getEnv = %q, want default", got)
	}
}
