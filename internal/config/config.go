package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseProvider selects the warehouse backend.
type DatabaseProvider string

const (
	ProviderSnowflake  DatabaseProvider = "snowflake"
	ProviderPostgreSQL DatabaseProvider = "postgresql"
)

// DecisionFilterMode controls which transaction decisions participate in
// warehouse queries. FINALIZED is the default because fraud labels may be
// populated for historically-approved transactions whose decision column
// has since been nulled.
type DecisionFilterMode string

const (
	FilterApprovedOnly DecisionFilterMode = "APPROVED_ONLY"
	FilterFinalized    DecisionFilterMode = "FINALIZED"
	FilterAll          DecisionFilterMode = "ALL"
)

// Config is the immutable process configuration. Initialized once at
// startup; never mutated afterwards.
type Config struct {
	Mode RunMode

	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	State     StateConfig     `mapstructure:"state"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
}

// WarehouseConfig configures the analytical warehouse gateway.
type WarehouseConfig struct {
	Provider       DatabaseProvider   `mapstructure:"provider"`
	DSN            string             `mapstructure:"dsn"`
	BatchSize      int                `mapstructure:"batch_size"`
	SafetyFactor   int                `mapstructure:"safety_factor"`
	QueryTimeout   time.Duration      `mapstructure:"query_timeout"`
	DecisionFilter DecisionFilterMode `mapstructure:"decision_filter"`
	PoolSize       int                `mapstructure:"pool_size"`
}

// StateConfig configures the relational investigation state store.
type StateConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// LLMConfig configures the opaque text-completion capability.
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Requests per minute budget enforced in front of the provider.
	RateLimit int `mapstructure:"rate_limit"`
}

// EngineConfig holds investigation engine tunables.
type EngineConfig struct {
	RiskThreshold       float64       `mapstructure:"risk_threshold"`
	DefaultGroupBy      string        `mapstructure:"default_group_by"`
	MaxLookbackMonths   int           `mapstructure:"max_lookback_months"`
	EnhancedRiskScoring bool          `mapstructure:"enhanced_risk_scoring"`
	Parallel            bool          `mapstructure:"parallel"`
	RecursionLimit      int           `mapstructure:"recursion_limit"`
	Timeout             time.Duration `mapstructure:"timeout"`
	// Evidence gating minima for the risk aggregator.
	MinScoredDomains  int `mapstructure:"min_scored_domains"`
	MinEvidenceItems  int `mapstructure:"min_evidence_items"`
	LabelMaturityDays int `mapstructure:"label_maturity_days"`
}

// WorkspaceConfig configures on-disk artifact layout.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// Load reads configuration from the optional YAML file and the
// environment. Environment variables win over file values.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".fraudlens")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnv(&cfg)
	cfg.Mode = DetectMode()
	if cfg.Engine.RecursionLimit == 0 {
		cfg.Engine.RecursionLimit = cfg.Mode.RecursionLimit()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	applyEnv(&cfg)
	cfg.Mode = DetectMode()
	if cfg.Engine.RecursionLimit == 0 {
		cfg.Engine.RecursionLimit = cfg.Mode.RecursionLimit()
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("warehouse.provider", string(ProviderPostgreSQL))
	v.SetDefault("warehouse.batch_size", 500)
	v.SetDefault("warehouse.safety_factor", 2)
	v.SetDefault("warehouse.query_timeout", 30*time.Second)
	v.SetDefault("warehouse.decision_filter", string(FilterFinalized))
	v.SetDefault("warehouse.pool_size", 8)
	v.SetDefault("state.host", "localhost")
	v.SetDefault("state.port", 5432)
	v.SetDefault("state.database", "fraudlens")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("engine.risk_threshold", 0.3)
	v.SetDefault("engine.default_group_by", "EMAIL")
	v.SetDefault("engine.max_lookback_months", 6)
	v.SetDefault("engine.enhanced_risk_scoring", true)
	v.SetDefault("engine.parallel", true)
	v.SetDefault("engine.timeout", 300*time.Second)
	v.SetDefault("engine.min_scored_domains", 2)
	v.SetDefault("engine.min_evidence_items", 3)
	v.SetDefault("engine.label_maturity_days", 30)
	v.SetDefault("workspace.root", "workspace")
}

// applyEnv overlays the recognized environment variable set.
func applyEnv(cfg *Config) {
	cfg.Warehouse.Provider = DatabaseProvider(strings.ToLower(
		GetString("DATABASE_PROVIDER", string(cfg.Warehouse.Provider))))
	cfg.Warehouse.BatchSize = GetInt("ISFRAUD_BATCH_SIZE", cfg.Warehouse.BatchSize)
	cfg.Warehouse.DecisionFilter = DecisionFilterMode(strings.ToUpper(
		GetString("TRANSACTION_DECISION_FILTER", string(cfg.Warehouse.DecisionFilter))))
	cfg.Engine.RiskThreshold = GetFloat("RISK_THRESHOLD_DEFAULT", cfg.Engine.RiskThreshold)
	cfg.Engine.DefaultGroupBy = strings.ToUpper(
		GetString("ANALYTICS_DEFAULT_GROUP_BY", cfg.Engine.DefaultGroupBy))
	cfg.Engine.MaxLookbackMonths = GetInt("ANALYTICS_MAX_LOOKBACK_MONTHS", cfg.Engine.MaxLookbackMonths)
	cfg.Engine.EnhancedRiskScoring = GetBool("USE_ENHANCED_RISK_SCORING", cfg.Engine.EnhancedRiskScoring)
	cfg.LLM.APIKey = GetString("OPENAI_API_KEY", cfg.LLM.APIKey)
}

// Validate checks constraints that would otherwise surface deep inside
// an investigation. A violation is a configuration error (exit code 2).
func (c *Config) Validate() error {
	switch c.Warehouse.Provider {
	case ProviderSnowflake, ProviderPostgreSQL:
	default:
		return fmt.Errorf("invalid DATABASE_PROVIDER %q (want snowflake or postgresql)", c.Warehouse.Provider)
	}
	switch c.Warehouse.DecisionFilter {
	case FilterApprovedOnly, FilterFinalized, FilterAll:
	default:
		return fmt.Errorf("invalid TRANSACTION_DECISION_FILTER %q", c.Warehouse.DecisionFilter)
	}
	if c.Engine.RiskThreshold < 0 || c.Engine.RiskThreshold > 1 {
		return fmt.Errorf("RISK_THRESHOLD_DEFAULT %v out of [0,1]", c.Engine.RiskThreshold)
	}
	switch c.Engine.DefaultGroupBy {
	case "EMAIL", "IP", "DEVICE_ID":
	default:
		return fmt.Errorf("invalid ANALYTICS_DEFAULT_GROUP_BY %q", c.Engine.DefaultGroupBy)
	}
	if c.Warehouse.BatchSize <= 0 {
		return fmt.Errorf("ISFRAUD_BATCH_SIZE must be positive, got %d", c.Warehouse.BatchSize)
	}
	if c.Engine.MaxLookbackMonths < 1 || c.Engine.MaxLookbackMonths > 6 {
		return fmt.Errorf("ANALYTICS_MAX_LOOKBACK_MONTHS %d out of [1,6]", c.Engine.MaxLookbackMonths)
	}
	return nil
}

// AnalyzerConcurrency returns the orchestrator's parallelism bound. One
// connection is reserved for checkpointing.
func (c *Config) AnalyzerConcurrency() int {
	n := c.Warehouse.PoolSize - 1
	if n < 1 {
		n = 1
	}
	return n
}
