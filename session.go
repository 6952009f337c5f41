package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// minSessionTokenLen rejects truncated or placeholder session files.
const minSessionTokenLen = 11

// savedSession describes the session token persisted by a previous run.
type savedSession struct {
	Token   string
	SavedAt time.Time
}

// age reports how long ago the token was written.
func (s savedSession) age(now time.Time) time.Duration {
	return now.Sub(s.SavedAt)
}

// fresh reports whether the token can be reused without logging in again.
func (s savedSession) fresh(now time.Time, maxAge time.Duration) bool {
	if len(s.Token) < minSessionTokenLen {
		return false
	}
	if maxAge <= 0 {
		return false
	}
	return s.age(now) <= maxAge
}

// writeSession persists token as the whole content of path.
func writeSession(path, token string) error {
	if err := writeFileAtomic(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// readSession loads the token written by writeSession. A missing file returns
// os.ErrNotExist.
func readSession(path string) (savedSession, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return savedSession{}, err
	}
	b, err := os.ReadFile(path) //nolint:gosec // configured path
	if err != nil {
		return savedSession{}, fmt.Errorf("read session: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return savedSession{}, errors.New("session file is empty")
	}
	return savedSession{Token: token, SavedAt: fi.ModTime()}, nil
}

// writeFileAtomic replaces path with data via a temp file and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
