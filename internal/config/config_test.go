package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TypingQuietInterval != 5*time.Second {
		t.Errorf("expected typing quiet interval 5s, got %s", cfg.TypingQuietInterval)
	}
	if cfg.SocketRetryDelay != 5*time.Second {
		t.Errorf("expected socket retry delay 5s, got %s", cfg.SocketRetryDelay)
	}
	if cfg.SocketMaxRetries != 5 {
		t.Errorf("expected 5 socket retries, got %d", cfg.SocketMaxRetries)
	}
	if cfg.HistoryPageSize != 20 {
		t.Errorf("expected history page size 20, got %d", cfg.HistoryPageSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DRSDK_API_HOST", "http://localhost:9000/api/")
	t.Setenv("DRSDK_SOCKET_MAX_RETRIES", "2")
	t.Setenv("DRSDK_TYPING_QUIET_INTERVAL", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIHost != "http://localhost:9000/api/" {
		t.Errorf("expected overridden api host, got %q", cfg.APIHost)
	}
	if cfg.SocketMaxRetries != 2 {
		t.Errorf("expected 2 socket retries, got %d", cfg.SocketMaxRetries)
	}
	if cfg.TypingQuietInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.TypingQuietInterval)
	}
}

func TestLoad_RejectsBadPageSize(t *testing.T) {
	t.Setenv("DRSDK_HISTORY_PAGE_SIZE", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestRequireSession(t *testing.T) {
	cfg := Default()
	if err := cfg.RequireSession(); err == nil {
		t.Error("expected error without credentials")
	}

	cfg.Token = "tok"
	cfg.UserToken = "utok"
	cfg.ConsultationID = "123"
	if err := cfg.RequireSession(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
