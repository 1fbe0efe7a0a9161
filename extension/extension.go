// Package extension provides the Forge extension adapter for Mandate.
//
// It implements the forge.Extension interface to integrate Mandate
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.mandate" or "mandate" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/vessel"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/assetledger"
	ledgermem "github.com/xraph/mandate/assetledger/memory"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/observability"
	"github.com/xraph/mandate/relayer"
	"github.com/xraph/mandate/replay"
	"github.com/xraph/mandate/store"
	"github.com/xraph/mandate/store/memory"
	mongostore "github.com/xraph/mandate/store/mongo"
	pgstore "github.com/xraph/mandate/store/postgres"
	sqlitestore "github.com/xraph/mandate/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "mandate"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Allowance-capped recurring payment authorization"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Mandate as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *mandate.Mandate
	store       store.Store
	assets      assetledger.Ledger
	guard       *replay.RedisGuard
	relay       *relayer.Relayer
	relayerKey  *authority.Keypair
	relayerOpts []relayer.Option
	mandateOpts []mandate.Option
	useGrove    bool

	metricsFactory observability.MetricFactory
}

// New creates a new Mandate Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Mandate instance.
// This is nil until Register is called.
func (e *Extension) Engine() *mandate.Mandate { return e.engine }

// Relayer returns the charge relayer, or nil when it is disabled.
func (e *Extension) Relayer() *relayer.Relayer { return e.relay }

// Register implements [forge.Extension]. It loads configuration,
// initializes the mandate engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil && (e.useGrove || e.config.GroveDatabase != "") {
		s, err := e.resolveGroveStore(fapp)
		if err != nil {
			return err
		}
		e.store = s
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if err := e.resolveRelayerKey(); err != nil {
		return err
	}

	opts, err := e.buildMandateOpts()
	if err != nil {
		return err
	}

	if e.assets == nil {
		e.Logger().Warn("mandate: no asset ledger configured, using in-memory ledger")
		program, _ := authority.ParseIdentity(e.config.ProgramID) //nolint:errcheck // validated by buildMandateOpts
		e.assets = ledgermem.New(ledgermem.WithTrustedPrograms(program))
	}

	eng, err := mandate.New(e.store, e.assets, opts...)
	if err != nil {
		return err
	}
	e.engine = eng

	if e.config.RelayerEnabled {
		r, err := relayer.New(eng, e.relayerKey, eng.ProgramID(), e.buildRelayerOpts()...)
		if err != nil {
			return err
		}
		e.relay = r
		if err := vessel.Provide(fapp.Container(), func() (*relayer.Relayer, error) {
			return e.relay, nil
		}); err != nil {
			return err
		}
	}

	return vessel.Provide(fapp.Container(), func() (*mandate.Mandate, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("mandate: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	if e.relay != nil {
		if err := e.relay.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	var errs []error
	if e.relay != nil {
		errs = append(errs, e.relay.Stop(ctx))
	}
	if e.engine != nil {
		errs = append(errs, e.engine.Stop())
	}
	if e.guard != nil {
		errs = append(errs, e.guard.Close())
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("mandate: store not initialized")
	}
	return e.store.Ping(ctx)
}

// resolveGroveStore resolves a grove.DB from the container and picks the
// store backend matching its driver.
func (e *Extension) resolveGroveStore(fapp forge.App) (store.Store, error) {
	var (
		db  *grove.DB
		err error
	)
	if e.config.GroveDatabase != "" {
		db, err = vessel.InjectNamed[*grove.DB](fapp.Container(), e.config.GroveDatabase)
	} else {
		db, err = vessel.Inject[*grove.DB](fapp.Container())
	}
	if err != nil {
		return nil, fmt.Errorf("mandate: resolve grove database %q: %w", e.config.GroveDatabase, err)
	}
	return storeForDriver(db)
}

func storeForDriver(db *grove.DB) (store.Store, error) {
	switch db.Driver().(type) {
	case *pgdriver.PgDB:
		return pgstore.New(db), nil
	case *sqlitedriver.SqliteDB:
		return sqlitestore.New(db), nil
	case *mongodriver.MongoDB:
		return mongostore.New(db), nil
	default:
		return nil, fmt.Errorf("mandate: unsupported grove driver %T", db.Driver())
	}
}

// resolveRelayerKey loads the backend keypair from config when the relayer
// is enabled and no keypair was passed programmatically.
func (e *Extension) resolveRelayerKey() error {
	if !e.config.RelayerEnabled || e.relayerKey != nil {
		return nil
	}
	if e.config.RelayerKeySeed == "" {
		return errors.New("mandate: relayer enabled but no relayer_key_seed configured")
	}
	seed, err := authority.ParseIdentity(e.config.RelayerKeySeed)
	if err != nil {
		return fmt.Errorf("mandate: relayer_key_seed: %w", err)
	}
	kp, err := authority.KeypairFromSeed(seed.Bytes())
	if err != nil {
		return fmt.Errorf("mandate: relayer_key_seed: %w", err)
	}
	e.relayerKey = kp
	return nil
}

// buildMandateOpts constructs mandate.Option values from the resolved config.
func (e *Extension) buildMandateOpts() ([]mandate.Option, error) {
	opts := make([]mandate.Option, 0, len(e.mandateOpts)+6)

	program, err := authority.ParseIdentity(e.config.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("mandate: program_id: %w", err)
	}
	opts = append(opts, mandate.WithProgramID(program))

	switch {
	case e.config.TrustedBackend != "":
		backend, err := authority.ParseIdentity(e.config.TrustedBackend)
		if err != nil {
			return nil, fmt.Errorf("mandate: trusted_backend: %w", err)
		}
		if e.relayerKey != nil && e.relayerKey.Public() != backend {
			return nil, errors.New("mandate: relayer key does not match trusted_backend")
		}
		opts = append(opts, mandate.WithTrustedBackend(backend))
	case e.relayerKey != nil:
		opts = append(opts, mandate.WithTrustedBackend(e.relayerKey.Public()))
	}

	if e.config.MaxInstructionAge > 0 {
		opts = append(opts, mandate.WithMaxInstructionAge(e.config.MaxInstructionAge))
	}

	if e.config.RedisAddr != "" {
		var guardOpts []replay.RedisOption
		if e.config.RedisKeyPrefix != "" {
			guardOpts = append(guardOpts, replay.WithKeyPrefix(e.config.RedisKeyPrefix))
		}
		timeout := e.config.RedisDialTimeout
		if timeout <= 0 {
			timeout = DefaultConfig().RedisDialTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		g, err := replay.DialRedisGuard(ctx,
			e.config.RedisAddr, e.config.RedisPassword, e.config.RedisDB, guardOpts...)
		cancel()
		if err != nil {
			return nil, err
		}
		e.guard = g
		opts = append(opts, mandate.WithReplayGuard(g))
	}

	if e.config.EnableMetrics {
		factory := e.metricsFactory
		if factory == nil {
			factory = observability.NewPrometheusFactory()
		}
		metrics := observability.NewMetricsExtension(factory)
		opts = append(opts, mandate.WithPlugin(metrics))
	}

	// Append any pass-through mandate options.
	opts = append(opts, e.mandateOpts...)

	return opts, nil
}

// buildRelayerOpts constructs relayer.Option values from the resolved config.
func (e *Extension) buildRelayerOpts() []relayer.Option {
	opts := []relayer.Option{
		relayer.WithWorkers(e.config.RelayerWorkers),
		relayer.WithBackoff(e.config.RelayerBaseDelay, e.config.RelayerMaxDelay),
	}
	if e.config.RelayerMaxAttempts > 0 {
		opts = append(opts, relayer.WithMaxAttempts(uint(e.config.RelayerMaxAttempts)))
	}
	return append(opts, e.relayerOpts...)
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("mandate: configuration is required but not found in config files; " +
				"ensure 'extensions.mandate' or 'mandate' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("mandate: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("program_id", e.config.ProgramID),
		forge.F("trusted_backend", e.config.TrustedBackend),
		forge.F("max_instruction_age", e.config.MaxInstructionAge),
		forge.F("grove_database", e.config.GroveDatabase),
		forge.F("redis_addr", e.config.RedisAddr),
		forge.F("relayer_enabled", e.config.RelayerEnabled),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.mandate" first (namespaced pattern).
	if cm.IsSet("extensions.mandate") {
		if err := cm.Bind("extensions.mandate", &cfg); err == nil {
			e.Logger().Debug("mandate: loaded config from file",
				forge.F("key", "extensions.mandate"),
			)
			return cfg, true
		}
		e.Logger().Warn("mandate: failed to bind extensions.mandate config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "mandate" key.
	if cm.IsSet("mandate") {
		if err := cm.Bind("mandate", &cfg); err == nil {
			e.Logger().Debug("mandate: loaded config from file",
				forge.F("key", "mandate"),
			)
			return cfg, true
		}
		e.Logger().Warn("mandate: failed to bind mandate config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxInstructionAge == 0 {
		cfg.MaxInstructionAge = defaults.MaxInstructionAge
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = defaults.RedisKeyPrefix
	}
	if cfg.RedisDialTimeout == 0 {
		cfg.RedisDialTimeout = defaults.RedisDialTimeout
	}
	if cfg.RelayerWorkers == 0 {
		cfg.RelayerWorkers = defaults.RelayerWorkers
	}
	if cfg.RelayerMaxAttempts == 0 {
		cfg.RelayerMaxAttempts = defaults.RelayerMaxAttempts
	}
	if cfg.RelayerBaseDelay == 0 {
		cfg.RelayerBaseDelay = defaults.RelayerBaseDelay
	}
	if cfg.RelayerMaxDelay == 0 {
		cfg.RelayerMaxDelay = defaults.RelayerMaxDelay
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.EnableMetrics {
		yamlConfig.EnableMetrics = true
	}
	if programmaticConfig.RelayerEnabled {
		yamlConfig.RelayerEnabled = true
	}

	// String fields: YAML takes precedence.
	fillString(&yamlConfig.ProgramID, programmaticConfig.ProgramID)
	fillString(&yamlConfig.TrustedBackend, programmaticConfig.TrustedBackend)
	fillString(&yamlConfig.GroveDatabase, programmaticConfig.GroveDatabase)
	fillString(&yamlConfig.RedisAddr, programmaticConfig.RedisAddr)
	fillString(&yamlConfig.RedisPassword, programmaticConfig.RedisPassword)
	fillString(&yamlConfig.RedisKeyPrefix, programmaticConfig.RedisKeyPrefix)
	fillString(&yamlConfig.RelayerKeySeed, programmaticConfig.RelayerKeySeed)

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MaxInstructionAge == 0 && programmaticConfig.MaxInstructionAge != 0 {
		yamlConfig.MaxInstructionAge = programmaticConfig.MaxInstructionAge
	}
	if yamlConfig.RedisDB == 0 && programmaticConfig.RedisDB != 0 {
		yamlConfig.RedisDB = programmaticConfig.RedisDB
	}
	if yamlConfig.RedisDialTimeout == 0 && programmaticConfig.RedisDialTimeout != 0 {
		yamlConfig.RedisDialTimeout = programmaticConfig.RedisDialTimeout
	}
	if yamlConfig.RelayerWorkers == 0 && programmaticConfig.RelayerWorkers != 0 {
		yamlConfig.RelayerWorkers = programmaticConfig.RelayerWorkers
	}
	if yamlConfig.RelayerMaxAttempts == 0 && programmaticConfig.RelayerMaxAttempts != 0 {
		yamlConfig.RelayerMaxAttempts = programmaticConfig.RelayerMaxAttempts
	}
	if yamlConfig.RelayerBaseDelay == 0 && programmaticConfig.RelayerBaseDelay != 0 {
		yamlConfig.RelayerBaseDelay = programmaticConfig.RelayerBaseDelay
	}
	if yamlConfig.RelayerMaxDelay == 0 && programmaticConfig.RelayerMaxDelay != 0 {
		yamlConfig.RelayerMaxDelay = programmaticConfig.RelayerMaxDelay
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}

func fillString(dst *string, fallback string) {
	if *dst == "" {
		*dst = fallback
	}
}
