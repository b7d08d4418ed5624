package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Playbook    PlaybookConfig `mapstructure:"playbook"`
	Audit       AuditConfig    `mapstructure:"audit"`
	Baseline    BaselineConfig `mapstructure:"baseline"`
	Model       ModelConfig    `mapstructure:"model"`
	MCP         MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	EnableEvents   bool          `mapstructure:"enable_events"`
}

// DatabaseConfig represents PostgreSQL connection configuration.
// An empty Host disables every Postgres-backed component.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// Enabled reports whether a database host is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// CacheConfig represents the Redis cache in front of the playbook service.
// An empty RedisURL disables it.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PlaybookConfig configures the resistance playbook (next-line options) client.
// An empty BaseURL disables enrichment.
type PlaybookConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   int           `mapstructure:"rate_limit"`
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// AuditConfig selects the audit log sink subscribed to PredictionComplete.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path    string `mapstructure:"path"`
}

// BaselineConfig configures population baseline lookup.
type BaselineConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}

// ModelConfig holds the calibrated constants of the prediction model. The sigmoid steepness and
// the expression cap are calibrated values carried over as-is; they are configurable but have no
// derivation to re-run.
type ModelConfig struct {
	Version string `mapstructure:"version"`

	// DNA repair restoration
	RepairThreshold         float64 `mapstructure:"repair_threshold"`
	SigmoidSteepness        float64 `mapstructure:"sigmoid_steepness"`
	PatientBaselineTrust    float64 `mapstructure:"patient_baseline_trust"`
	PopulationBaselineTrust float64 `mapstructure:"population_baseline_trust"`

	// Myeloma high-risk genes
	DrugClassBoost float64 `mapstructure:"drug_class_boost"`

	// Post-treatment pathway profile
	ExpressionCap        float64 `mapstructure:"expression_cap"`
	PathwayHighThreshold float64 `mapstructure:"pathway_high_threshold"`
	CompositeThreshold   float64 `mapstructure:"composite_threshold"`
	PathwayConfidence    float64 `mapstructure:"pathway_confidence"`
	DDRWeight            float64 `mapstructure:"ddr_weight"`
	PI3KWeight           float64 `mapstructure:"pi3k_weight"`
	VEGFWeight           float64 `mapstructure:"vegf_weight"`

	// Orchestrator
	LineMultiplierSecond    float64 `mapstructure:"line_multiplier_second"`
	LineMultiplierThirdPlus float64 `mapstructure:"line_multiplier_third_plus"`
	CrossResistanceFactor   float64 `mapstructure:"cross_resistance_factor"`
	AdjustedCeiling         float64 `mapstructure:"adjusted_ceiling"`
	HighRiskProbability     float64 `mapstructure:"high_risk_probability"`
	MediumRiskProbability   float64 `mapstructure:"medium_risk_probability"`
	PopulationPenalty       float64 `mapstructure:"population_penalty"`
	SparseEvidenceCap       float64 `mapstructure:"sparse_evidence_cap"`
	MinCA125Measurements    int     `mapstructure:"min_ca125_measurements"`
}

// DefaultModelConfig returns the calibrated model constants.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Version: "resistance-engine-v1.0",

		RepairThreshold:         -0.15,
		SigmoidSteepness:        10.0,
		PatientBaselineTrust:    0.90,
		PopulationBaselineTrust: 0.60,

		DrugClassBoost: 1.10,

		ExpressionCap:        15.0,
		PathwayHighThreshold: 0.65,
		CompositeThreshold:   0.60,
		PathwayConfidence:    0.90,
		DDRWeight:            0.4,
		PI3KWeight:           0.3,
		VEGFWeight:           0.3,

		LineMultiplierSecond:    1.2,
		LineMultiplierThirdPlus: 1.4,
		CrossResistanceFactor:   1.3,
		AdjustedCeiling:         0.95,
		HighRiskProbability:     0.70,
		MediumRiskProbability:   0.50,
		PopulationPenalty:       0.80,
		SparseEvidenceCap:       0.60,
		MinCA125Measurements:    2,
	}
}
