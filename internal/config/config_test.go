package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("delay-server", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngressPort != defaultIngressPort || cfg.EgressPort != defaultEgressPort {
		t.Fatalf("unexpected default ports: %+v", cfg)
	}
	if cfg.HoldOverride != nil {
		t.Fatalf("expected absent hold override by default, got %v", *cfg.HoldOverride)
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected default log settings: %+v", cfg)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load("delay-server", []string{"-ingress-port=30000", "-hold-seconds=0.5"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngressPort != 30000 {
		t.Fatalf("ingress port = %d, want 30000", cfg.IngressPort)
	}
	if cfg.HoldOverride == nil || *cfg.HoldOverride != 0.5 {
		t.Fatalf("hold override = %v, want 0.5", cfg.HoldOverride)
	}
}

func TestLoadFileAppliesWhenFlagAbsent(t *testing.T) {
	path := writeYAML(t, `
ingress_port: 31000
egress_port: 31001
hold_seconds: 1.5
log_level: debug
`)
	cfg, err := Load("delay-server", []string{"-config=" + path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngressPort != 31000 || cfg.EgressPort != 31001 {
		t.Fatalf("file ports not applied: %+v", cfg)
	}
	if cfg.HoldOverride == nil || *cfg.HoldOverride != 1.5 {
		t.Fatalf("file hold_seconds not applied: %v", cfg.HoldOverride)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("file log_level not applied: %s", cfg.LogLevel)
	}
}

func TestFlagWinsOverFile(t *testing.T) {
	path := writeYAML(t, `ingress_port: 31000`)
	cfg, err := Load("delay-server", []string{"-config=" + path, "-ingress-port=40000"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngressPort != 40000 {
		t.Fatalf("ingress port = %d, want 40000 (flag should win)", cfg.IngressPort)
	}
}

func TestEnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("DELAY_SERVER_EGRESS_PORT", "50001")
	t.Setenv("DELAY_SERVER_INGRESS_PORT", "50000")

	cfg, err := Load("delay-server", []string{"-ingress-port=60000"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngressPort != 60000 {
		t.Fatalf("ingress port = %d, want 60000 (flag beats env)", cfg.IngressPort)
	}
	if cfg.EgressPort != 50001 {
		t.Fatalf("egress port = %d, want 50001 (env beats default)", cfg.EgressPort)
	}
}

func TestEnvBadIntIsIgnoredNotFatal(t *testing.T) {
	t.Setenv("DELAY_SERVER_INGRESS_PORT", "not-a-port")
	cfg, err := Load("delay-server", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IngressPort != defaultIngressPort {
		t.Fatalf("ingress port = %d, want default %d when env is unparseable", cfg.IngressPort, defaultIngressPort)
	}
}

func TestLoadRejectsInvalidLogFormat(t *testing.T) {
	if _, err := Load("delay-server", []string{"-log-format=xml"}); err == nil {
		t.Fatal("expected error for invalid log-format")
	}
}

func TestLoadRejectsNegativeHoldOverride(t *testing.T) {
	t.Setenv("DELAY_SERVER_HOLD_SECONDS", "-1")
	if _, err := Load("delay-server", nil); err == nil {
		t.Fatal("expected error for negative hold-seconds via env")
	}
}

func TestLoadRejectsInvalidHubPolicy(t *testing.T) {
	if _, err := Load("delay-server", []string{"-hub-policy=retry"}); err == nil {
		t.Fatal("expected error for invalid hub-policy")
	}
}

func TestHubPolicyDefaultsToDrop(t *testing.T) {
	cfg, err := Load("delay-server", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HubPolicy != "drop" {
		t.Fatalf("hub policy = %s, want drop", cfg.HubPolicy)
	}
	if cfg.HubClientBuf != defaultHubClientBuf {
		t.Fatalf("hub client buffer = %d, want %d", cfg.HubClientBuf, defaultHubClientBuf)
	}
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "delay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp yaml: %v", err)
	}
	return path
}
