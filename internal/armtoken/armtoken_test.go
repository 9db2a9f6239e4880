package armtoken

import (
	"path/filepath"
	"testing"
	"time"
)

func TestVerify_FailsWhenNeverArmed(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "engine.yaml")
	if err := Verify(configPath, time.Now()); err == nil {
		t.Fatal("expected verify to fail when no token has been issued")
	}
}

func TestVerify_SucceedsAfterIssueWithinTTL(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "engine.yaml")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Issue(configPath, now); err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if err := Verify(configPath, now.Add(TTL/2)); err != nil {
		t.Errorf("expected verify to succeed within TTL, got: %v", err)
	}
}

func TestVerify_FailsAfterTTLExpires(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "engine.yaml")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Issue(configPath, now); err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if err := Verify(configPath, now.Add(TTL+time.Minute)); err == nil {
		t.Error("expected verify to fail once the token has expired")
	}
}

func TestIssue_OverwritesPriorToken(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "engine.yaml")
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := Issue(configPath, first); err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	second := first.Add(time.Hour)
	if err := Issue(configPath, second); err != nil {
		t.Fatalf("unexpected re-issue error: %v", err)
	}
	if err := Verify(configPath, second.Add(TTL/2)); err != nil {
		t.Errorf("expected verify to succeed using the re-issued token, got: %v", err)
	}
	if err := Verify(configPath, first.Add(TTL+time.Minute)); err != nil {
		t.Errorf("expected the re-issued token to still be valid at the original token's old expiry, got: %v", err)
	}
}
