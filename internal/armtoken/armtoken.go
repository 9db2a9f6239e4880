// Package armtoken implements the arming protocol: a short-lived token
// issued by `engine arm` that a subsequent `engine run` (or `engine
// reconcile`) in live trading_mode must present before the live executor
// is constructed. "No live without arm" is a universal invariant — the
// token, not the config file's trading_mode alone, gates the live path.
//
// arm and run are separate process invocations of the same CLI binary, so
// the token is persisted to a file next to the config rather than kept in
// memory. Its short TTL keeps the state effectively process-scoped: once
// it expires, a fresh arm is required regardless of whether the file is
// still present.
package armtoken

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TTL is how long an issued token remains valid. Arming again replaces it.
const TTL = 15 * time.Minute

// token is the on-disk shape of one issued arm token.
type token struct {
	ConfigPath string    `json:"config_path"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// path computes the token's on-disk location for configPath.
func path(configPath string) (string, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("armtoken: resolve config path %s: %w", configPath, err)
	}
	return abs + ".armed.json", nil
}

// Issue persists a fresh arm token for configPath, valid for TTL from now.
// Called by `engine arm` once its read-only exchange connectivity probe
// succeeds.
func Issue(configPath string, now time.Time) error {
	p, err := path(configPath)
	if err != nil {
		return err
	}
	tok := token{ConfigPath: p, IssuedAt: now, ExpiresAt: now.Add(TTL)}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("armtoken: marshal token: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("armtoken: write token to %s: %w", p, err)
	}
	return nil
}

// Verify reports whether configPath is currently armed: a token file must
// exist and not yet have expired. Callers on the live path must treat any
// returned error as startup-blocking — this is the "No live without arm"
// invariant's sole enforcement point.
func Verify(configPath string, now time.Time) error {
	p, err := path(configPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("armtoken: not armed: run `engine arm` before starting live trading")
		}
		return fmt.Errorf("armtoken: read token %s: %w", p, err)
	}
	var tok token
	if err := json.Unmarshal(data, &tok); err != nil {
		return fmt.Errorf("armtoken: parse token %s: %w", p, err)
	}
	if now.After(tok.ExpiresAt) {
		return fmt.Errorf("armtoken: arm token expired at %s: run `engine arm` again", tok.ExpiresAt)
	}
	return nil
}
