package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "CONTENT_STORE", "LEDGER_CONFIRM_TIMEOUT", "LEASE_BACKEND", "MAX_DOCUMENT_BYTES", "ISSUANCE_STEP_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.ContentStore != "memory" || cfg.LeaseBackend != "memory" {
		t.Fatalf("unexpected backends %q %q", cfg.ContentStore, cfg.LeaseBackend)
	}
	if cfg.LedgerConfirmTimeout != time.Minute || cfg.IssuanceStepTimeout != time.Minute {
		t.Fatalf("unexpected timeouts %s %s", cfg.LedgerConfirmTimeout, cfg.IssuanceStepTimeout)
	}
	if cfg.MaxDocumentBytes != 10<<20 {
		t.Fatalf("unexpected max document bytes %d", cfg.MaxDocumentBytes)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CONTENT_STORE", "IPFS")
	t.Setenv("LEDGER_CONFIRM_TIMEOUT", "90s")
	t.Setenv("LEDGER_POLL_INTERVAL", "5")
	t.Setenv("LEASE_TTL", "garbage")
	t.Setenv("LEDGER_CHAIN_ID", "42220")
	cfg := FromEnv()
	if cfg.ContentStore != "ipfs" {
		t.Fatalf("expected ipfs, got %q", cfg.ContentStore)
	}
	if cfg.LedgerConfirmTimeout != 90*time.Second || cfg.LedgerPollInterval != 5*time.Second {
		t.Fatalf("unexpected durations %s %s", cfg.LedgerConfirmTimeout, cfg.LedgerPollInterval)
	}
	if cfg.LeaseTTL != 5*time.Minute {
		t.Fatalf("invalid duration must fall back, got %s", cfg.LeaseTTL)
	}
	if cfg.LedgerChainID != 42220 {
		t.Fatalf("unexpected chain id %d", cfg.LedgerChainID)
	}
}

func TestLedgerConfigured(t *testing.T) {
	cfg := Config{LedgerRPCURL: "http://localhost:8545", LedgerContractAddress: "0x1"}
	if cfg.LedgerConfigured() {
		t.Fatalf("missing key must not count as configured")
	}
	cfg.LedgerPrivateKeyHex = "ab"
	if !cfg.LedgerConfigured() {
		t.Fatalf("expected configured")
	}
}

func TestAutoMigrateFlag(t *testing.T) {
	t.Setenv("AUTO_MIGRATE", "")
	if !FromEnv().AutoMigrate {
		t.Fatalf("auto migrate should default to true")
	}
	t.Setenv("AUTO_MIGRATE", "false")
	if FromEnv().AutoMigrate {
		t.Fatalf("expected auto migrate disabled")
	}
	t.Setenv("AUTO_MIGRATE", "maybe")
	if !FromEnv().AutoMigrate {
		t.Fatalf("unparseable value must fall back to default")
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("CONTENT_STORE=oss\nHTTP_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("CONTENT_STORE", "")
	os.Unsetenv("CONTENT_STORE")

	cfg := Load(path)
	if cfg.ContentStore != "oss" {
		t.Fatalf("expected value from env file, got %q", cfg.ContentStore)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("process env must win, got %q", cfg.HTTPAddr)
	}
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7001")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	if cfg.HTTPAddr != ":7001" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
}
