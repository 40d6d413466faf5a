package fallback

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fallback.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}
	return path
}

func TestLoaderLoad(t *testing.T) {
	path := writeFile(t, `
accounts:
  alice.example.com:
    did: did:plc:alice
    profile:
      displayName: Alice
      description: Fallback profile
    posts:
      - rkey: 3kabc
        text: hello world
        createdAt: 2024-05-01T10:00:00Z
`)

	config, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	acc, ok := config.Accounts["alice.example.com"]
	if !ok {
		t.Fatal("Load() missing alice.example.com")
	}
	if acc.DID != "did:plc:alice" || acc.Profile.DisplayName != "Alice" || len(acc.Posts) != 1 {
		t.Errorf("Load() = %+v", acc)
	}
}

func TestLoaderRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, `
accounts:
  alice.example.com:
    dDid: did:plc:alice
`)
	if _, err := NewLoader(path).Load(); err == nil {
		t.Error("Load() should reject unknown keys")
	}
}

func TestLoaderEmptyFile(t *testing.T) {
	path := writeFile(t, "")
	config, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(config.Accounts) != 0 {
		t.Errorf("empty file produced %d accounts", len(config.Accounts))
	}
}

func TestLoaderMissingFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(); err == nil {
		t.Error("Load() should fail on a missing file")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	list, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if list.Len() != 0 {
		t.Errorf("Load(\"\") has %d accounts, want 0", list.Len())
	}
}
