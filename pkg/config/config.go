package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"Calibra/pkg/util"
)

type Config struct {
	Environment string            `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Storage     StorageConfig     `yaml:"storage"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Aggregator  AggregatorConfig  `yaml:"aggregator"`
	Convergence ConvergenceConfig `yaml:"convergence"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Regime      RegimeConfig      `yaml:"regime"`
	Retrain     RetrainConfig     `yaml:"retrain"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Redis       RedisConfig       `yaml:"redis"`
	Feed        FeedConfig        `yaml:"feed"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"20s"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
	BodyLimit       string        `yaml:"body_limit" default:"1M"`

	// Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output string `yaml:"output" default:"stdout"`

	// Aggregated logs at CollectLevel and above are shipped to Kafka when
	// CollectorTopic is set and kafka is enabled.
	CollectorTopic string `yaml:"collector_topic"`
	CollectLevel   string `yaml:"collect_level" default:"error" validate:"oneof=debug info warn error"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// StorageConfig holds file locations. Relative paths resolve against DataDir.
type StorageConfig struct {
	DataDir           string        `yaml:"data_dir" default:"data" validate:"required"`
	OutcomeLog        string        `yaml:"outcome_log" default:"outcomes.jsonl"`
	DecisionLog       string        `yaml:"decision_log" default:"lifecycle_decisions.jsonl"`
	StateFile         string        `yaml:"state_file" default:"lifecycle_state.json"`
	RetrainStatusFile string        `yaml:"retrain_status_file" default:"retrain_status.json"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval" default:"1m"`
	SyncWrites        bool          `yaml:"sync_writes" default:"true"`
}

type MonitorConfig struct {
	Horizon       time.Duration      `yaml:"horizon" default:"4h" validate:"gt=0"`
	SweepInterval time.Duration      `yaml:"sweep_interval" default:"30s" validate:"gt=0"`
	PipSizes      map[string]float64 `yaml:"pip_sizes"`
}

type AggregatorConfig struct {
	PatternWindow        int           `yaml:"pattern_window" default:"20" validate:"min=1"`
	PairWindow           int           `yaml:"pair_window" default:"50" validate:"min=1"`
	PairMaxAge           time.Duration `yaml:"pair_max_age" default:"72h"`
	SessionWindow        int           `yaml:"session_window" default:"100" validate:"min=1"`
	ComboRebuildInterval time.Duration `yaml:"combo_rebuild_interval" default:"15m" validate:"gt=0"`
}

type ConvergenceConfig struct {
	Window     time.Duration `yaml:"window" default:"5m" validate:"gt=0"`
	PerPattern float64       `yaml:"per_pattern" default:"10" validate:"gte=0"`
	Cap        float64       `yaml:"cap" default:"30" validate:"gte=0"`
}

type CalibrationConfig struct {
	Min                float64            `yaml:"min" default:"85"`
	Max                float64            `yaml:"max" default:"95" validate:"gtefield=Min"`
	PatternMinTrades   int                `yaml:"pattern_min_trades" default:"10"`
	PatternWeight      float64            `yaml:"pattern_weight" default:"20"`
	PairMinSamples     int                `yaml:"pair_min_samples" default:"5"`
	PairWeight         float64            `yaml:"pair_weight" default:"10"`
	SessionMinVolume   int                `yaml:"session_min_volume" default:"20"`
	SessionAdjustments map[string]float64 `yaml:"session_adjustments"`
	StreakMin          int                `yaml:"streak_min" default:"3" validate:"min=1"`
	StreakStep         float64            `yaml:"streak_step" default:"1"`
	StreakCap          float64            `yaml:"streak_cap" default:"5"`
	ComboMinSamples    int                `yaml:"combo_min_samples" default:"5"`
	ComboWinRate       float64            `yaml:"combo_win_rate" default:"0.70"`
	ComboBonus         float64            `yaml:"combo_bonus" default:"3"`
}

// SessionRule restricts which patterns may fire in a session. An empty Allow
// list means every pattern not in Deny is allowed.
type SessionRule struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

type LifecycleConfig struct {
	QuarantineMinTrades  int                    `yaml:"quarantine_min_trades" default:"50"`
	QuarantineExpectancy float64                `yaml:"quarantine_expectancy" default:"-0.05"`
	KillMinTrades        int                    `yaml:"kill_min_trades" default:"100"`
	KillExpectancy       float64                `yaml:"kill_expectancy" default:"-0.10"`
	PromoteMinTrades     int                    `yaml:"promote_min_trades" default:"50"`
	PromoteWinRate       float64                `yaml:"promote_win_rate" default:"0.70"`
	PromoteMultiplier    float64                `yaml:"promote_multiplier" default:"1.25" validate:"gte=1"`
	MaxMultiplier        float64                `yaml:"max_multiplier" default:"2.0" validate:"gte=1"`
	RecoveryExpectancy   float64                `yaml:"recovery_expectancy" default:"0.10"`
	RecoveryMinTrades    int                    `yaml:"recovery_min_trades" default:"20"`
	TestingTrades        int                    `yaml:"testing_trades" default:"20" validate:"min=1"`
	TestingMultiplier    float64                `yaml:"testing_multiplier" default:"0.5" validate:"gt=0"`
	PairMinTrades        int                    `yaml:"pair_min_trades" default:"10"`
	PairDisableWinRate   float64                `yaml:"pair_disable_win_rate" default:"0.30"`
	PairBoostWinRate     float64                `yaml:"pair_boost_win_rate" default:"0.75"`
	PairBoostMultiplier  float64                `yaml:"pair_boost_multiplier" default:"1.2" validate:"gte=1"`
	Sessions             map[string]SessionRule `yaml:"sessions"`
}

type RegimeConfig struct {
	Period            int     `yaml:"period" default:"14" validate:"min=2"`
	MinCandles        int     `yaml:"min_candles" default:"20" validate:"min=2"`
	ADXTrendThreshold float64 `yaml:"adx_trend_threshold" default:"25"`
	ATRHighRatio      float64 `yaml:"atr_high_ratio" default:"1.5"`
	CandleTimeframe   string  `yaml:"candle_timeframe" default:"1m"`
	CandleHistory     int     `yaml:"candle_history" default:"200" validate:"min=1"`
	// memory builds candles from ticks; clickhouse reads the candle table.
	Source string `yaml:"source" default:"memory" validate:"oneof=memory clickhouse"`
}

type RetrainConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Mode            string        `yaml:"mode" default:"exec" validate:"oneof=exec http"`
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args"`
	WorkDir         string        `yaml:"work_dir"`
	URL             string        `yaml:"url"`
	ModelPath       string        `yaml:"model_path" default:"model.bin"`
	Timeout         time.Duration `yaml:"timeout" default:"10m" validate:"gt=0"`
	CheckInterval   time.Duration `yaml:"check_interval" default:"5m" validate:"gt=0"`
	EntryThreshold  int           `yaml:"entry_threshold" default:"100" validate:"min=1"`
	MaxInterval     time.Duration `yaml:"max_interval" default:"24h"`
	FailureCooldown time.Duration `yaml:"failure_cooldown" default:"30m"`
}

type KafkaConfig struct {
	Enabled      bool        `yaml:"enabled"`
	Brokers      []string    `yaml:"brokers" validate:"required_if=Enabled true"`
	Topics       KafkaTopics `yaml:"topics"`
	RequiredAcks int         `yaml:"required_acks" default:"-1"`
	Compression  string      `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"calibra"`
		Workers    int           `yaml:"workers" default:"4" validate:"min=1"`
		BufferSize int           `yaml:"buffer_size" default:"1000"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`

		// A new group starts at the head of each topic instead of replaying it.
		StartAtLatest bool `yaml:"start_at_latest"`
	} `yaml:"consumer"`
}

type KafkaTopics struct {
	Ticks      string `yaml:"ticks" default:"ticks"`
	Candidates string `yaml:"candidates" default:"candidate-signals"`
	Decisions  string `yaml:"decisions" default:"signal-decisions"`
	Outcomes   string `yaml:"outcomes" default:"signal-outcomes"`
	Lifecycle  string `yaml:"lifecycle" default:"lifecycle-decisions"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port"` // 0: 9000 native, 8123 http
	Database         string        `yaml:"database" default:"calibra"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	CandleTable      string        `yaml:"candle_table" default:"candles_1m"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr" default:"localhost:6379"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size" default:"10" validate:"min=1"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"10m"`
	KeyPrefix   string        `yaml:"key_prefix" default:"calibra"`
	RetrainJobs bool          `yaml:"retrain_jobs" default:"true"`
}

// FeedConfig configures the optional WebSocket tick feed.
type FeedConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url" validate:"required_if=Enabled true"`
	APIKey         string        `yaml:"api_key"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"50"`
	Burst             int     `yaml:"burst" default:"100"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	c.applyDerivedDefaults()
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDerivedDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CALIBRA_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CALIBRA_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CALIBRA_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CALIBRA_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("CALIBRA_TRAINER_COMMAND"); v != "" {
		c.Retrain.Command = v
	}
	if v := os.Getenv("CALIBRA_FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("CALIBRA_FEED_SYMBOLS"); v != "" {
		c.Feed.Symbols = util.SplitCSV(v)
	}
	c.Server.Port = util.ParseIntDefault(os.Getenv("CALIBRA_PORT"), c.Server.Port)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyDerivedDefaults() {
	if c.Calibration.SessionAdjustments == nil {
		c.Calibration.SessionAdjustments = map[string]float64{
			"OVERLAP": 2,
			"LONDON":  1,
			"NY":      0,
			"ASIAN":   -2,
			"OTHER":   -3,
		}
	}
	if c.Monitor.PipSizes == nil {
		c.Monitor.PipSizes = map[string]float64{}
	}
	if c.Lifecycle.Sessions == nil {
		c.Lifecycle.Sessions = map[string]SessionRule{}
	}
}

// Validate checks struct constraints plus the few cross-field rules tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Retrain.Enabled {
		switch c.Retrain.Mode {
		case "exec":
			if c.Retrain.Command == "" {
				return fmt.Errorf("retrain.command is required when retrain.mode is exec")
			}
		case "http":
			if c.Retrain.URL == "" {
				return fmt.Errorf("retrain.url is required when retrain.mode is http")
			}
		}
	}
	if c.Regime.Source == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("regime.source clickhouse requires clickhouse.enabled")
	}
	if c.Regime.MinCandles <= c.Regime.Period {
		return fmt.Errorf("regime.min_candles (%d) must exceed regime.period (%d)", c.Regime.MinCandles, c.Regime.Period)
	}
	return nil
}
