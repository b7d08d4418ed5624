// Package config loads the engine configuration from defaults, an optional config.yaml and
// RESISTANCE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/resistance-prediction-engine/internal/domain"
)

// EnvPrefix is the environment variable prefix, e.g. RESISTANCE_SERVER_PORT.
const EnvPrefix = "RESISTANCE"

// Manager loads and validates configuration using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfigFile reads an explicit config file instead of searching the default paths.
func WithConfigFile(path string) Option {
	return func(m *Manager) { m.configFile = path }
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/resistance-engine/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables are enough to run.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.enable_events", true)

	// Database defaults (empty host disables Postgres)
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "resistance")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults (empty URL disables Redis)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Playbook defaults (empty base URL disables enrichment)
	v.SetDefault("playbook.base_url", "")
	v.SetDefault("playbook.api_key", "")
	v.SetDefault("playbook.timeout", "10s")
	v.SetDefault("playbook.rate_limit", 10)
	v.SetDefault("playbook.max_requests", 3)
	v.SetDefault("playbook.interval", "30s")
	v.SetDefault("playbook.open_timeout", "60s")

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.path", defaultAuditPath())

	// Baseline defaults
	v.SetDefault("baseline.cache_size", 64)
	v.SetDefault("baseline.cache_ttl", "10m")

	// MCP defaults
	v.SetDefault("mcp.server_name", "resistance-prediction-engine")
	v.SetDefault("mcp.server_version", "1.0.0")

	// Model defaults
	model := domain.DefaultModelConfig()
	v.SetDefault("model.version", model.Version)
	v.SetDefault("model.repair_threshold", model.RepairThreshold)
	v.SetDefault("model.sigmoid_steepness", model.SigmoidSteepness)
	v.SetDefault("model.patient_baseline_trust", model.PatientBaselineTrust)
	v.SetDefault("model.population_baseline_trust", model.PopulationBaselineTrust)
	v.SetDefault("model.drug_class_boost", model.DrugClassBoost)
	v.SetDefault("model.expression_cap", model.ExpressionCap)
	v.SetDefault("model.pathway_high_threshold", model.PathwayHighThreshold)
	v.SetDefault("model.composite_threshold", model.CompositeThreshold)
	v.SetDefault("model.pathway_confidence", model.PathwayConfidence)
	v.SetDefault("model.ddr_weight", model.DDRWeight)
	v.SetDefault("model.pi3k_weight", model.PI3KWeight)
	v.SetDefault("model.vegf_weight", model.VEGFWeight)
	v.SetDefault("model.line_multiplier_second", model.LineMultiplierSecond)
	v.SetDefault("model.line_multiplier_third_plus", model.LineMultiplierThirdPlus)
	v.SetDefault("model.cross_resistance_factor", model.CrossResistanceFactor)
	v.SetDefault("model.adjusted_ceiling", model.AdjustedCeiling)
	v.SetDefault("model.high_risk_probability", model.HighRiskProbability)
	v.SetDefault("model.medium_risk_probability", model.MediumRiskProbability)
	v.SetDefault("model.population_penalty", model.PopulationPenalty)
	v.SetDefault("model.sparse_evidence_cap", model.SparseEvidenceCap)
	v.SetDefault("model.min_ca125_measurements", model.MinCA125Measurements)
}

func defaultAuditPath() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".resistance-engine", "audit.db")
	}
	return "audit.db"
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetModelConfig returns the model constants
func (m *Manager) GetModelConfig() domain.ModelConfig {
	return m.config.Model
}

// ConfigFileUsed returns the config file that was read, if any.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Enabled() {
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if config.Audit.Enabled {
		switch config.Audit.Driver {
		case "sqlite":
			if config.Audit.Path == "" {
				return fmt.Errorf("audit path is required for the sqlite driver")
			}
		case "postgres":
			if !config.Database.Enabled() {
				return fmt.Errorf("audit driver postgres requires database.host")
			}
		default:
			return fmt.Errorf("invalid audit driver: %s", config.Audit.Driver)
		}
	}

	if config.Playbook.BaseURL != "" && config.Playbook.RateLimit <= 0 {
		return fmt.Errorf("playbook rate limit must be positive")
	}

	if err := validateModel(config.Model); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

func validateModel(m domain.ModelConfig) error {
	for name, v := range map[string]float64{
		"patient_baseline_trust":    m.PatientBaselineTrust,
		"population_baseline_trust": m.PopulationBaselineTrust,
		"pathway_confidence":        m.PathwayConfidence,
		"adjusted_ceiling":          m.AdjustedCeiling,
		"high_risk_probability":     m.HighRiskProbability,
		"medium_risk_probability":   m.MediumRiskProbability,
		"population_penalty":        m.PopulationPenalty,
		"sparse_evidence_cap":       m.SparseEvidenceCap,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("model.%s must be within [0, 1], got %v", name, v)
		}
	}
	if m.MediumRiskProbability > m.HighRiskProbability {
		return fmt.Errorf("model.medium_risk_probability must not exceed model.high_risk_probability")
	}
	if m.ExpressionCap <= 0 {
		return fmt.Errorf("model.expression_cap must be positive")
	}
	if m.SigmoidSteepness <= 0 {
		return fmt.Errorf("model.sigmoid_steepness must be positive")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// NewLogger builds the process logger from the logging configuration. Output goes to stderr so the
// MCP stdio transport keeps stdout for protocol frames.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
