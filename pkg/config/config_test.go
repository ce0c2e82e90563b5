package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes config.yaml into a temp dir and chdirs there so Load()
// finds it.
func writeConfig(t *testing.T, yamlContent string) {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "3480"
env: "test"
storage: memory
auth:
  skip_verification: true
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
scoring:
  certification_threshold: 85
kafka:
  brokers: "k1.example.com:9092, k2.example.com:9092"
`)

	os.Unsetenv("PGHOST")
	os.Unsetenv("CERTIFICATION_THRESHOLD")

	t.Setenv("PORT", "4480")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PGPASSWORD", "secret")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4480" {
		t.Errorf("expected Port=4480 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host from YAML, got %s", cfg.Database.Host)
	}
	if cfg.Database.Password != "secret" {
		t.Errorf("expected password from env")
	}
	if cfg.Scoring.CertificationThreshold != 85 {
		t.Errorf("expected threshold 85, got %v", cfg.Scoring.CertificationThreshold)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2.example.com:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected version to be set, got %s", cfg.Version)
	}
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, `
storage: memory
auth:
  skip_verification: true
`)

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Scoring.CertificationThreshold != 80 {
		t.Errorf("expected default threshold 80, got %v", cfg.Scoring.CertificationThreshold)
	}
	if cfg.Redis.Enabled() {
		t.Errorf("redis should be disabled without a host")
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Catalog.Path != "catalog/r2v3_catalog.yaml" {
		t.Errorf("unexpected catalog path %s", cfg.Catalog.Path)
	}
	if cfg.Outbox.Interval() != 5*time.Second {
		t.Errorf("unexpected outbox interval %v", cfg.Outbox.Interval())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown storage", "storage: sqlite\nauth:\n  skip_verification: true\n"},
		{"threshold out of range", "storage: memory\nauth:\n  skip_verification: true\nscoring:\n  certification_threshold: 120\n"},
		{"verification without keys", "storage: memory\nauth:\n  skip_verification: false\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.yaml)
			os.Unsetenv("AUTH_HMAC_SECRET")
			os.Unsetenv("JWKS_ENDPOINTS")
			if _, err := Load("dev"); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	got := parseJWKSEndpoints("https://a.example=https://a.example/jwks.json?x=1, https://b.example=https://b.example/jwks")
	if len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(got))
	}
	if got["https://a.example"] != "https://a.example/jwks.json?x=1" {
		t.Errorf("query string must survive parsing, got %s", got["https://a.example"])
	}
}

func TestSLAAndDueDays(t *testing.T) {
	w := WorkflowConfig{SubmittedSLADays: 3, ReviewSLADays: 10, ChangesSLADays: 30, CertReadySLADays: 14}
	if w.SLAFor("UNDER_CONSULTANT_REVIEW") != 10*24*time.Hour {
		t.Errorf("unexpected review SLA")
	}
	if w.SLAFor("CLOSED") != 0 {
		t.Errorf("terminal stages have no SLA")
	}

	r := RemediationConfig{HighDueDays: 14, MediumDueDays: 30, LowDueDays: 60}
	if r.DueIn("high") != 14*24*time.Hour {
		t.Errorf("unexpected high due")
	}
	if r.DueIn("unknown") != 60*24*time.Hour {
		t.Errorf("unknown priority falls back to low")
	}
}

func TestMigrationConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "r2ready_app", Password: "app", Database: "r2ready", SSLMode: "disable"}

	if got := db.MigrationConnectionString(); got != db.ConnectionString() {
		t.Errorf("without an owner migrations should use the app role, got %q", got)
	}

	db.OwnerUser, db.OwnerPassword = "r2ready", "owner"
	got := db.MigrationConnectionString()
	if !strings.Contains(got, "user=r2ready ") || !strings.Contains(got, "password=owner ") {
		t.Errorf("expected owner credentials, got %q", got)
	}
	if db.User != "r2ready_app" {
		t.Errorf("app role must not change, got %q", db.User)
	}
}
