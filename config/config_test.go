package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	file, err := os.CreateTemp(t.TempDir(), "govagent-config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := file.WriteString(contents); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close config: %v", err)
	}
	return file.Name()
}

const baseYAML = `
rpc_url: "https://rpc.example.test"
governor: "0x1111111111111111111111111111111111111111"
dapp_registry: "0x2222222222222222222222222222222222222222"
keystore_path: "/tmp/keystore.json"
data_dir: "/tmp/govagent-data"
gateways:
  - url: "https://ipfs.example.test"
    max_attempts: 3
`

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	path := writeTempConfig(t, baseYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.SafeConfirmations != 3 {
		t.Fatalf("expected devnet default safe_confirmations=3, got %d", cfg.SafeConfirmations)
	}
	if cfg.GovernorAddress.Hex() != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("unexpected governor address: %s", cfg.GovernorAddress.Hex())
	}
	if cfg.DecisionProfile != "balanced" {
		t.Fatalf("expected default decision profile balanced, got %s", cfg.DecisionProfile)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, baseYAML)
	t.Setenv("GOV_AGENT_AUTO_VOTE", "true")
	t.Setenv("GOV_AGENT_DECISION_PROFILE", "conservative")
	t.Setenv("GOV_AGENT_PROFILE", "mainnet")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.AutoVote {
		t.Fatalf("expected env override to enable auto-vote")
	}
	if cfg.DecisionProfile != "conservative" {
		t.Fatalf("expected env override decision profile, got %s", cfg.DecisionProfile)
	}
	if cfg.SafeConfirmations != 6 {
		t.Fatalf("expected public-profile safe_confirmations=6, got %d", cfg.SafeConfirmations)
	}
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	path := writeTempConfig(t, baseYAML+"\napprove_threshold: 0.6\nreject_threshold: 0.3\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to reject reject_threshold <= approve_threshold")
	}
}

func TestLoadRejectsMissingGovernor(t *testing.T) {
	path := writeTempConfig(t, `
rpc_url: "https://rpc.example.test"
dapp_registry: "0x2222222222222222222222222222222222222222"
keystore_path: "/tmp/keystore.json"
data_dir: "/tmp/govagent-data"
gateways:
  - url: "https://ipfs.example.test"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail without a governor address")
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Config{KeystorePassword: "hunter2", Providers: []ProviderConfig{{APIKey: "sk-live-abc"}}}
	redacted := cfg.Redacted()
	if redacted.KeystorePassword != "[REDACTED]" {
		t.Fatalf("expected keystore password redacted")
	}
	if redacted.Providers[0].APIKey != "[REDACTED]" {
		t.Fatalf("expected provider api key redacted")
	}
	if cfg.KeystorePassword != "hunter2" {
		t.Fatalf("redaction must not mutate the source config")
	}
}
