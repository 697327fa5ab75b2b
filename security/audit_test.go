package security

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// captureLogger returns a logger writing JSON lines to the buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func TestAuditorHashesUserID(t *testing.T) {
	logger, buf := captureLogger()
	auditor := NewAuditor(logger, true)

	auditor.LogTokenIssued("user-secret-id", "client-1", "203.0.113.9", "read", "authorization_code")

	out := buf.String()
	if strings.Contains(out, "user-secret-id") {
		t.Error("raw user ID reached the log")
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	hash, _ := record["user_id_hash"].(string)
	if len(hash) != 16 {
		t.Errorf("user_id_hash = %q, want 16 hex characters", hash)
	}
	if record["event_type"] != EventTokenIssued {
		t.Errorf("event_type = %v", record["event_type"])
	}
	if record["client_id"] != "client-1" {
		t.Errorf("client_id = %v", record["client_id"])
	}
}

func TestAuditorDisabledIsSilent(t *testing.T) {
	logger, buf := captureLogger()
	auditor := NewAuditor(logger, false)

	auditor.LogAuthFailure("client-1", "203.0.113.9", "secret mismatch")
	auditor.LogCodeReplay("user-1", "client-1", "", 3)

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestAuditorSameUserSameHash(t *testing.T) {
	logger, buf := captureLogger()
	auditor := NewAuditor(logger, true)

	auditor.LogTokenIssued("user-1", "client-a", "", "read", "authorization_code")
	auditor.LogTokenRevoked("user-1", "client-b", "", "access_token")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}

	hashes := make([]string, 2)
	for i, line := range lines {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		hashes[i], _ = record["user_id_hash"].(string)
	}
	if hashes[0] != hashes[1] {
		t.Error("same user produced different hashes, correlation broken")
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q", got)
	}
	if got := hashForLogging("user-1"); len(got) != 16 {
		t.Errorf("hash length = %d, want 16", len(got))
	}
	if hashForLogging("user-1") == hashForLogging("user-2") {
		t.Error("distinct inputs collided")
	}
}

func TestAuditorThrottle(t *testing.T) {
	logger, buf := captureLogger()
	auditor := NewAuditor(logger, true)

	throttle := NewLogThrottle(1, 2, 100, logger)
	defer throttle.Stop()
	auditor.SetThrottle(throttle)

	for i := 0; i < 10; i++ {
		auditor.LogAuthFailure("flooding-client", "", "secret mismatch")
	}

	lines := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
	if lines > 2 {
		t.Errorf("throttle let %d lines through, want at most burst (2)", lines)
	}
}
