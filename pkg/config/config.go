package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the r2ready engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, signing keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Storage selects the repository implementation: postgres or memory.
	Storage string `yaml:"storage" env:"STORAGE_DRIVER" env-default:"postgres"`

	Auth        AuthConfig        `yaml:"auth"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Remediation RemediationConfig `yaml:"remediation"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// SkipVerification disables JWT signature checks. Only for local
	// development without an auth server.
	SkipVerification bool `yaml:"skip_verification" env:"AUTH_SKIP_VERIFICATION"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// HMACSecret signs tokens for local deployments without a JWKS issuer.
	HMACSecret string `yaml:"-" env:"AUTH_HMAC_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"r2ready"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"r2ready"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// The app role must not own the tables or row-level security is
	// bypassed. Migrations run as the owner when one is configured.
	OwnerUser     string `yaml:"owner_user" env:"PGOWNER_USER" env-default:""`
	OwnerPassword string `yaml:"-" env:"PGOWNER_PASSWORD"` // Secret - not in YAML
}

// RedisConfig holds the score tally cache connection. An empty host disables
// Redis and an in-process cache is used instead.
type RedisConfig struct {
	Host      string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"r2ready:score:"`
	TTLHours  int    `yaml:"ttl_hours" env:"REDIS_TTL_HOURS" env-default:"72"`
}

// Enabled reports whether a Redis host is configured.
func (c *RedisConfig) Enabled() bool { return c.Host != "" }

// Addr returns host:port.
func (c *RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// TTL returns the cache entry lifetime.
func (c *RedisConfig) TTL() time.Duration { return time.Duration(c.TTLHours) * time.Hour }

// KafkaConfig holds workflow event publishing. No brokers means events are
// written to the log instead.
type KafkaConfig struct {
	BrokersStr string   `yaml:"brokers" env:"KAFKA_BROKERS" env-default:""`
	Brokers    []string `yaml:"-"`
	Topic      string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"r2ready.workflow-events"`
	ClientID   string   `yaml:"client_id" env:"KAFKA_CLIENT_ID" env-default:"r2ready-engine"`
}

// CatalogConfig locates the question catalog.
type CatalogConfig struct {
	Path    string `yaml:"path" env:"CATALOG_PATH" env-default:"catalog/r2v3_catalog.yaml"`
	Format  string `yaml:"format" env:"CATALOG_FORMAT" env-default:""`
	Version string `yaml:"version" env:"CATALOG_VERSION" env-default:""`
}

// ScoringConfig holds scoring policy.
type ScoringConfig struct {
	// CertificationThreshold is the minimum overall score for APPROVE.
	CertificationThreshold float64 `yaml:"certification_threshold" env:"CERTIFICATION_THRESHOLD" env-default:"80"`
}

// WorkflowConfig holds review SLAs in days per stage.
type WorkflowConfig struct {
	SubmittedSLADays int `yaml:"submitted_sla_days" env:"WORKFLOW_SUBMITTED_SLA_DAYS" env-default:"3"`
	ReviewSLADays    int `yaml:"review_sla_days" env:"WORKFLOW_REVIEW_SLA_DAYS" env-default:"10"`
	ChangesSLADays   int `yaml:"changes_sla_days" env:"WORKFLOW_CHANGES_SLA_DAYS" env-default:"30"`
	CertReadySLADays int `yaml:"certification_ready_sla_days" env:"WORKFLOW_CERT_READY_SLA_DAYS" env-default:"14"`
}

// RemediationConfig holds corrective action due dates in days per priority.
type RemediationConfig struct {
	HighDueDays   int `yaml:"high_due_days" env:"REMEDIATION_HIGH_DUE_DAYS" env-default:"14"`
	MediumDueDays int `yaml:"medium_due_days" env:"REMEDIATION_MEDIUM_DUE_DAYS" env-default:"30"`
	LowDueDays    int `yaml:"low_due_days" env:"REMEDIATION_LOW_DUE_DAYS" env-default:"60"`
}

// OutboxConfig controls the event relay job.
type OutboxConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" env:"OUTBOX_INTERVAL_SECONDS" env-default:"5"`
	BatchSize       int `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"100"`
}

// MCPConfig controls the MCP tool endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
	// LogRequests logs JSON-RPC request and response bodies at debug level.
	LogRequests bool `yaml:"log_requests" env:"MCP_LOG_REQUESTS" env-default:"false"`
}

// Interval returns the relay tick interval.
func (c *OutboxConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.resolveDockerHosts()
	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Kafka.Brokers = splitList(c.Kafka.BrokersStr)
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	return nil
}

func (c *Config) validate() error {
	if c.Storage != StoragePostgres && c.Storage != StorageMemory {
		return fmt.Errorf("storage must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}
	if c.Scoring.CertificationThreshold < 0 || c.Scoring.CertificationThreshold > 100 {
		return fmt.Errorf("certification_threshold must be within [0, 100]")
	}
	if c.Remediation.HighDueDays <= 0 || c.Remediation.MediumDueDays <= 0 || c.Remediation.LowDueDays <= 0 {
		return fmt.Errorf("remediation due days must be positive")
	}
	if !c.Auth.SkipVerification && len(c.Auth.JWKSEndpoints) == 0 && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth verification needs jwks_endpoints or AUTH_HMAC_SECRET")
	}
	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MigrationConnectionString returns the connection string migrations run
// with: the owner's when configured, otherwise the app role's.
func (c *DatabaseConfig) MigrationConnectionString() string {
	if c.OwnerUser == "" {
		return c.ConnectionString()
	}
	owner := *c
	owner.User, owner.Password = c.OwnerUser, c.OwnerPassword
	return owner.ConnectionString()
}

// SLAFor returns the SLA for a workflow stage, or zero when the stage has none.
func (c *WorkflowConfig) SLAFor(stage string) time.Duration {
	days := 0
	switch stage {
	case "SUBMITTED_FOR_REVIEW":
		days = c.SubmittedSLADays
	case "UNDER_CONSULTANT_REVIEW":
		days = c.ReviewSLADays
	case "CHANGES_REQUESTED":
		days = c.ChangesSLADays
	case "CERTIFICATION_READY":
		days = c.CertReadySLADays
	}
	return time.Duration(days) * 24 * time.Hour
}

// DueIn returns how long a corrective action of the given priority has.
func (c *RemediationConfig) DueIn(priority string) time.Duration {
	days := c.LowDueDays
	switch priority {
	case "high":
		days = c.HighDueDays
	case "medium":
		days = c.MediumDueDays
	}
	return time.Duration(days) * 24 * time.Hour
}
