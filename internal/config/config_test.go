package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/kitchenstore/internal/models"
)

// clearEnv hides variables of the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDataDir, EnvLockTimeout, EnvWorkspaceLockTimeout, EnvLockMode, EnvHistory, EnvTimezone} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		got, err := Load("", dir)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		want := Default()
		want.DataDir = dir
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Load() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("layers", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, FileName), "lock_timeout: 2s\npoll_interval: 20ms\ntimezone: UTC\ncache_size: -1\nwatch: true\nlock_mode: native\n")
		writeFile(t, filepath.Join(dir, ".env"), "# local\nDREO_DATA_LOCK_TIMEOUT=3\nDREO_TEAM_LOCK_TIMEOUT=\"1.5\"\nDREO_LOCK_MODE='sentinel'\n")
		t.Setenv(EnvLockTimeout, "0.25")
		t.Setenv(EnvHistory, "true")
		got, err := Load("", dir)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		want := &Config{
			DataDir:              dir,
			LockTimeout:          250 * time.Millisecond,
			WorkspaceLockTimeout: 1500 * time.Millisecond,
			PollInterval:         20 * time.Millisecond,
			Timezone:             "UTC",
			LockMode:             LockModeSentinel,
			CacheSize:            -1,
			History:              true,
			Watch:                true,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Load() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("data dir from env", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		t.Setenv(EnvDataDir, dir)
		writeFile(t, filepath.Join(dir, FileName), "history: true\n")
		got, err := Load("", "")
		if err != nil {
			t.Fatal(err)
		}
		if got.DataDir != dir || !got.History {
			t.Errorf("Load() = %+v", got)
		}
	})

	t.Run("explicit file", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		if _, err := Load(filepath.Join(dir, "missing.yaml"), dir); err == nil {
			t.Error("Load() with missing explicit file succeeded")
		}
		p := filepath.Join(dir, "other.yaml")
		writeFile(t, p, "unknown_key: 1\n")
		if _, err := Load(p, dir); err == nil {
			t.Error("Load() accepted an unknown key")
		}
		writeFile(t, p, "")
		if _, err := Load(p, dir); err != nil {
			t.Errorf("Load(empty file) = %v", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name, key, value string
		}{
			{"lock mode", EnvLockMode, "kernel"},
			{"timezone", EnvTimezone, "Mars/Olympus"},
			{"timeout", EnvLockTimeout, "-1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clearEnv(t)
				t.Setenv(tt.key, tt.value)
				if _, err := Load("", t.TempDir()); !errors.Is(err, models.ErrValidation) {
					t.Errorf("Load() error = %v, want validation error", err)
				}
			})
		}
		clearEnv(t)
		t.Setenv(EnvHistory, "maybe")
		if _, err := Load("", t.TempDir()); err == nil {
			t.Error("Load() accepted an invalid bool")
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "A=1\n export B = two \nC=\"x\\ty\"\nD='$lit'\nnot a pair\n")
	got, err := loadDotEnv(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"A": "1", "B": "two", "C": "x\ty", "D": "$lit"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loadDotEnv() mismatch (-want +got):\n%s", diff)
	}
	writeFile(t, filepath.Join(dir, ".env"), "A='open\n")
	if _, err := loadDotEnv(dir); err == nil {
		t.Error("loadDotEnv() accepted unbalanced quotes")
	}
}
