package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndReadSession(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.txt")
	if err := writeSession(path, "FIRST-TOKEN-000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := writeSession(path, testSessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != testSessionID {
		t.Errorf("expected file to hold exactly the token, got %q", raw)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind: %v", err)
	}

	saved, err := readSession(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Token != testSessionID {
		t.Errorf("expected %q, got %q", testSessionID, saved.Token)
	}
	if saved.SavedAt.IsZero() {
		t.Error("expected modification time")
	}
}

func TestReadSessionErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := readSession(filepath.Join(dir, "missing.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte(" \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readSession(empty); err == nil {
		t.Error("expected error for empty session file")
	}
}

func TestSavedSessionFresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		token  string
		age    time.Duration
		maxAge time.Duration
		want   bool
	}{
		{name: "young", token: testSessionID, age: 5 * time.Minute, maxAge: 30 * time.Minute, want: true},
		{name: "at limit", token: testSessionID, age: 30 * time.Minute, maxAge: 30 * time.Minute, want: true},
		{name: "old", token: testSessionID, age: 31 * time.Minute, maxAge: 30 * time.Minute, want: false},
		{name: "short token", token: "ABC", age: time.Minute, maxAge: 30 * time.Minute, want: false},
		{name: "reuse disabled", token: testSessionID, age: time.Second, maxAge: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := savedSession{Token: tt.token, SavedAt: now.Add(-tt.age)}
			if got := s.fresh(now, tt.maxAge); got != tt.want {
				t.Errorf("fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}
