package logger

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewRotatingWriterDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	w, err := newRotatingWriter(AuditConfig{Path: path})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer w.Close()
	if w.MaxSize != defaultAuditMaxSizeMB || w.MaxBackups != defaultAuditMaxBackups || w.MaxAge != defaultAuditMaxAgeDays {
		t.Fatalf("unexpected defaults: %+v", w)
	}
	if _, err := w.Write([]byte("{}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter(AuditConfig{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestBuildHandlerText(t *testing.T) {
	h, err := buildHandler("text", []string{"stderr"}, &slog.HandlerOptions{})
	if err != nil {
		t.Fatalf("buildHandler: %v", err)
	}
	if _, ok := h.(*slog.TextHandler); !ok {
		t.Fatalf("expected text handler, got %T", h)
	}
}
