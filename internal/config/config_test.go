package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Grading.Scale != 20 || cfg.Grading.Locale != "fr-FR" || cfg.Grading.Conjunction != "plus" {
		t.Fatalf("unexpected grading defaults %+v", cfg.Grading)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral event store by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totali.yaml")
	data := []byte(`grading:
  scale: 15
  conversion_scale: 20
  ok_behavior: finalize-and-continue
tts:
  mode: exec
  command: "piper --model fr"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Grading.Scale != 15 || cfg.Grading.ConversionScale != 20 {
		t.Fatalf("unexpected scales %+v", cfg.Grading)
	}
	if cfg.Grading.OKBehavior != "finalize-and-continue" {
		t.Fatalf("unexpected ok behavior %q", cfg.Grading.OKBehavior)
	}
	if cfg.TTS.Command != "piper --model fr" || cfg.Grading.Locale != "fr-FR" {
		t.Fatalf("file values must merge over defaults: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOTALI_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("TOTALI_BUS_USERNAME", "alice")
	t.Setenv("TOTALI_BUS_PASSWORD", "secret")
	t.Setenv("TOTALI_BUS_TLS_INSECURE", "true")
	t.Setenv("TOTALI_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("TOTALI_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("TOTALI_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("TOTALI_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("TOTALI_GRADING_SCALE", "12,5")
	t.Setenv("TOTALI_GRADING_CONVERSION_SCALE", "20")
	t.Setenv("TOTALI_GRADING_CONJUNCTION", "et")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Grading.Scale != 12.5 || cfg.Grading.ConversionScale != 20 || cfg.Grading.Conjunction != "et" {
		t.Fatalf("expected grading overrides, got %+v", cfg.Grading)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"TOTALI_GRADING_SCALE":            "0",
		"TOTALI_GRADING_CONVERSION_SCALE": "-1",
		"TOTALI_GRADING_OK_BEHAVIOR":      "sometimes",
		"TOTALI_STT_MODE":                 "cloud",
		"TOTALI_TELEMETRY_LOG_LEVEL":      "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected validation error for %s=%s", key, value)
			}
		})
	}
}
