package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureAPIToken_CreatesOnce(t *testing.T) {
	t.Setenv("REELREC_API_TOKEN", "")
	dir := filepath.Join(t.TempDir(), "data")

	if _, err := ReadAPIToken(dir); !errors.Is(err, ErrNoToken) {
		t.Fatalf("ReadAPIToken before create: err = %v, want ErrNoToken", err)
	}

	first, err := EnsureAPIToken(dir)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token")
	}
	second, err := EnsureAPIToken(dir)
	if err != nil {
		t.Fatalf("EnsureAPIToken again: %v", err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q vs %q", first, second)
	}

	read, err := ReadAPIToken(dir)
	if err != nil || read != first {
		t.Errorf("ReadAPIToken = %q, %v; want %q", read, err, first)
	}

	info, err := os.Stat(filepath.Join(dir, tokenFileName))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

func TestEnsureAPIToken_EnvOverride(t *testing.T) {
	t.Setenv("REELREC_API_TOKEN", "from-env")
	dir := t.TempDir()

	token, err := EnsureAPIToken(dir)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	if token != "from-env" {
		t.Errorf("token = %q, want from-env", token)
	}
	if _, err := os.Stat(filepath.Join(dir, tokenFileName)); !os.IsNotExist(err) {
		t.Error("token file written despite env override")
	}
}

func TestReadAPIToken_EnvMatchesServer(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, tokenFileName), []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REELREC_API_TOKEN", "from-env")

	server, err := EnsureAPIToken(dir)
	if err != nil {
		t.Fatalf("EnsureAPIToken: %v", err)
	}
	client, err := ReadAPIToken(dir)
	if err != nil {
		t.Fatalf("ReadAPIToken: %v", err)
	}
	if client != "from-env" || client != server {
		t.Errorf("ReadAPIToken = %q, EnsureAPIToken = %q; want both from-env", client, server)
	}
}
