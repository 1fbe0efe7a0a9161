package extension

import "time"

// Config holds the Mandate extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.mandate" or "mandate" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// ProgramID is the base58 program identity that scopes every derived
	// address. Required.
	ProgramID string `json:"program_id" mapstructure:"program_id" yaml:"program_id"`

	// TrustedBackend is the base58 identity allowed to sign charges. When
	// empty and the relayer is enabled, the relayer key's identity is used.
	TrustedBackend string `json:"trusted_backend" mapstructure:"trusted_backend" yaml:"trusted_backend"`

	// MaxInstructionAge bounds how old a signed instruction may be (default: 10m).
	MaxInstructionAge time.Duration `json:"max_instruction_age" mapstructure:"max_instruction_age" yaml:"max_instruction_age"`

	// GroveDatabase is the name of a grove.DB registered in the DI container.
	// When set, the extension resolves this named database and auto-constructs
	// the appropriate store based on the driver type (pg/sqlite/mongo).
	// When empty and WithGroveDatabase was called, the default (unnamed) DB is used.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RedisAddr enables the shared Redis replay guard. Leave empty for the
	// in-process guard, which only protects a single instance.
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`

	// RedisPassword authenticates against RedisAddr.
	RedisPassword string `json:"redis_password" mapstructure:"redis_password" yaml:"redis_password"`

	// RedisDB selects the Redis logical database.
	RedisDB int `json:"redis_db" mapstructure:"redis_db" yaml:"redis_db"`

	// RedisKeyPrefix namespaces replay keys (default: "mandate:replay:").
	RedisKeyPrefix string `json:"redis_key_prefix" mapstructure:"redis_key_prefix" yaml:"redis_key_prefix"`

	// RedisDialTimeout bounds the initial Redis ping during Register (default: 5s).
	RedisDialTimeout time.Duration `json:"redis_dial_timeout" mapstructure:"redis_dial_timeout" yaml:"redis_dial_timeout"`

	// EnableMetrics registers the Prometheus metrics plugin.
	EnableMetrics bool `json:"enable_metrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`

	// RelayerEnabled starts the charge relayer alongside the engine.
	RelayerEnabled bool `json:"relayer_enabled" mapstructure:"relayer_enabled" yaml:"relayer_enabled"`

	// RelayerKeySeed is the base58 32-byte ed25519 seed of the backend key.
	// May instead be supplied with WithRelayerKeypair.
	RelayerKeySeed string `json:"relayer_key_seed" mapstructure:"relayer_key_seed" yaml:"relayer_key_seed"`

	// RelayerWorkers is the size of the relayer worker pool (default: 4).
	RelayerWorkers int `json:"relayer_workers" mapstructure:"relayer_workers" yaml:"relayer_workers"`

	// RelayerMaxAttempts bounds attempts per charge job (default: 5).
	RelayerMaxAttempts int `json:"relayer_max_attempts" mapstructure:"relayer_max_attempts" yaml:"relayer_max_attempts"`

	// RelayerBaseDelay is the first retry delay (default: 1m).
	RelayerBaseDelay time.Duration `json:"relayer_base_delay" mapstructure:"relayer_base_delay" yaml:"relayer_base_delay"`

	// RelayerMaxDelay caps the delay between retries (default: 30m).
	RelayerMaxDelay time.Duration `json:"relayer_max_delay" mapstructure:"relayer_max_delay" yaml:"relayer_max_delay"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxInstructionAge:  10 * time.Minute,
		RedisKeyPrefix:     "mandate:replay:",
		RedisDialTimeout:   5 * time.Second,
		RelayerWorkers:     4,
		RelayerMaxAttempts: 5,
		RelayerBaseDelay:   time.Minute,
		RelayerMaxDelay:    30 * time.Minute,
	}
}
