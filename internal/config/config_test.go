package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "custody.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("default address: %s", cfg.Server.Address)
	}
	if cfg.Ledger.Driver != "sqlite" {
		t.Fatalf("default ledger driver: %s", cfg.Ledger.Driver)
	}
	if cfg.Reconciler.IntervalSeconds != 300 {
		t.Fatalf("default interval: %d", cfg.Reconciler.IntervalSeconds)
	}
	if cfg.Reconciler.RPCTimeoutSeconds != 15 {
		t.Fatalf("default rpc timeout: %d", cfg.Reconciler.RPCTimeoutSeconds)
	}
	if cfg.Audit.Driver != "log" {
		t.Fatalf("default audit driver: %s", cfg.Audit.Driver)
	}
	if cfg.Logger.Level != "info" || cfg.Logger.Format != "json" {
		t.Fatalf("default logger: %+v", cfg.Logger)
	}
	if !filepath.IsAbs(cfg.Ledger.Path) {
		t.Fatalf("ledger path not resolved: %s", cfg.Ledger.Path)
	}
	if !filepath.IsAbs(cfg.Chains.DefinitionsFile) {
		t.Fatalf("chains file not resolved: %s", cfg.Chains.DefinitionsFile)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"ledger": {"driver": "sqlite", "path": "data/custody.db"},
		"chains": {"definitions_file": "chains.yaml"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	base := filepath.Dir(path)
	if cfg.Ledger.Path != filepath.Join(base, "data", "custody.db") {
		t.Fatalf("ledger path: %s", cfg.Ledger.Path)
	}
	if cfg.Chains.DefinitionsFile != filepath.Join(base, "chains.yaml") {
		t.Fatalf("chains file: %s", cfg.Chains.DefinitionsFile)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"address": ":9090"},
		"ledger": {"driver": "mysql", "dsn": "user:pass@tcp(localhost:3306)/custody"},
		"reconciler": {"interval_seconds": 60, "rpc_timeout_seconds": 5},
		"audit": {"driver": "redis", "redis": {"address": "localhost:6379"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Fatalf("address overridden: %s", cfg.Server.Address)
	}
	if cfg.Ledger.Driver != "mysql" {
		t.Fatalf("ledger driver overridden: %s", cfg.Ledger.Driver)
	}
	if cfg.Reconciler.IntervalSeconds != 60 || cfg.Reconciler.RPCTimeoutSeconds != 5 {
		t.Fatalf("reconciler overridden: %+v", cfg.Reconciler)
	}
	if cfg.Audit.Driver != "redis" || cfg.Audit.Redis.Address != "localhost:6379" {
		t.Fatalf("audit overridden: %+v", cfg.Audit)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
