package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"MOTORPOOL_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("MOTORPOOL_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "MOTORPOOL_TEST_DOTENV_NEW=from-file\nMOTORPOOL_TEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MOTORPOOL_TEST_DOTENV_SET", "from-env")
	t.Setenv("MOTORPOOL_TEST_DOTENV_NEW", "")
	os.Unsetenv("MOTORPOOL_TEST_DOTENV_NEW")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("MOTORPOOL_TEST_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("MOTORPOOL_TEST_DOTENV_NEW = %q, want %q", got, "from-file")
	}
	if got := os.Getenv("MOTORPOOL_TEST_DOTENV_SET"); got != "from-env" {
		t.Fatalf("MOTORPOOL_TEST_DOTENV_SET = %q, want %q", got, "from-env")
	}
}

func TestLoadDotEnvSkipsMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing file to be skipped, got %v", err)
	}
}
