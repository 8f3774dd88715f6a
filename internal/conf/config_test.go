package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_FieldAssignment(t *testing.T) {
	cfg := Config{
		Domain: "example.com",
		Listen: ":143",
	}
	if cfg.Domain != "example.com" {
		t.Errorf("expected domain 'example.com', got %q", cfg.Domain)
	}
	if cfg.Listen != ":143" {
		t.Errorf("expected listen ':143', got %q", cfg.Listen)
	}
}

func TestLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mailsession.yaml")
	content := `domain: test.example.com
listen: ":1143"
backend:
  sqlite_path: /var/lib/mailsession/mail.db
auth:
  hmac_key_file: /etc/mailsession/hmac.key
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load("mailsession", path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Domain != "test.example.com" {
		t.Errorf("expected domain 'test.example.com', got %q", cfg.Domain)
	}
	if cfg.Backend.SQLitePath != "/var/lib/mailsession/mail.db" {
		t.Errorf("expected sqlite_path, got %q", cfg.Backend.SQLitePath)
	}
	if cfg.Auth.HMACKeyFile != "/etc/mailsession/hmac.key" {
		t.Errorf("expected hmac_key_file, got %q", cfg.Auth.HMACKeyFile)
	}
}

func TestLoad_WithBlob(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mailsession.yaml")
	content := `domain: test.example.com
backend:
  sqlite_path: mail.db
  blob:
    bucket: mail-bodies
    region: us-east-1
    threshold_bytes: 65536
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load("mailsession", path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Backend.Blob == nil {
		t.Fatal("expected non-nil blob config")
	}
	if cfg.Backend.Blob.Bucket != "mail-bodies" {
		t.Errorf("expected bucket 'mail-bodies', got %q", cfg.Backend.Blob.Bucket)
	}
	if cfg.Backend.Blob.ThresholdBytes != 65536 {
		t.Errorf("expected threshold 65536, got %d", cfg.Backend.Blob.ThresholdBytes)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	_, err := Load("mailsession", filepath.Join(tmpDir, "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mailsession.yaml")
	invalid := `domain: test.example.com
listen: [invalid yaml structure
  missing closing bracket
`
	if err := os.WriteFile(path, []byte(invalid), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load("mailsession", path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "mailsession.yaml")
	if err := os.WriteFile(path, []byte(""), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load("mailsession", path)
	if err != nil {
		t.Fatalf("expected no error for empty file, got: %v", err)
	}
	if cfg.Domain != "" {
		t.Errorf("expected empty domain, got %q", cfg.Domain)
	}
}

func TestLoad_DefaultPathFallback(t *testing.T) {
	// No explicit path: Load should fall through its default search
	// order and fail in an empty temp cwd rather than pick up a
	// config left over from a previous test or the repo root.
	tmpDir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer func() { _ = os.Chdir(orig) }()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	_, err = Load("mailsession", "")
	if err == nil {
		t.Error("expected error with no config file present, got nil")
	}
}
