package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.Contains(out, "petmail version dev") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestMigrateAndSweep(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "pets.db")
	env := filepath.Join(dir, "test.env")
	if err := os.WriteFile(env, []byte("STALE_SWEEP_ENABLED=false\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", dsn)
	t.Setenv("LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("STALE_SWEEP_ENABLED") })

	if _, err := run(t, "migrate", "--env-file", env); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Fatalf("database not created: %v", err)
	}

	out, err := run(t, "sweep-stale", "--env-file", env)
	if err != nil || !strings.Contains(out, "0 stale ledger entries") {
		t.Fatalf("sweep out=%q err=%v", out, err)
	}

	if _, err := run(t, "replay", "missing-id", "--env-file", env); err == nil || !strings.Contains(err.Error(), "replay missing-id") {
		t.Fatalf("replay err = %v", err)
	}
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("DB_DSN", filepath.Join(t.TempDir(), "x.db"))
	t.Setenv("LOG_LEVEL", "error")
	if _, err := run(t, "migrate", "--env-file", filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
