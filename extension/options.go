package extension

import (
	"time"

	"github.com/xraph/mandate"
	"github.com/xraph/mandate/assetledger"
	"github.com/xraph/mandate/authority"
	"github.com/xraph/mandate/observability"
	"github.com/xraph/mandate/plugin"
	"github.com/xraph/mandate/relayer"
	"github.com/xraph/mandate/store"
)

// Option configures the Mandate Forge extension.
type Option func(*Extension)

// WithStore sets the store for the mandate engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithAssetLedger sets the asset ledger charges settle against.
func WithAssetLedger(l assetledger.Ledger) Option {
	return func(e *Extension) {
		e.assets = l
	}
}

// WithMandateOption passes a mandate.Option through to the underlying engine.
func WithMandateOption(opt mandate.Option) Option {
	return func(e *Extension) {
		e.mandateOpts = append(e.mandateOpts, opt)
	}
}

// WithPlugin registers a mandate plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.mandateOpts = append(e.mandateOpts, mandate.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithProgramID sets the program identity.
func WithProgramID(program authority.Identity) Option {
	return func(e *Extension) { e.config.ProgramID = program.String() }
}

// WithTrustedBackend sets the identity allowed to sign charges.
func WithTrustedBackend(backend authority.Identity) Option {
	return func(e *Extension) { e.config.TrustedBackend = backend.String() }
}

// WithMaxInstructionAge bounds how old a signed instruction may be.
func WithMaxInstructionAge(d time.Duration) Option {
	return func(e *Extension) { e.config.MaxInstructionAge = d }
}

// WithRedisReplayGuard shares replay protection through Redis at addr.
func WithRedisReplayGuard(addr, password string, db int) Option {
	return func(e *Extension) {
		e.config.RedisAddr = addr
		e.config.RedisPassword = password
		e.config.RedisDB = db
	}
}

// WithMetrics registers the Prometheus metrics plugin.
func WithMetrics() Option {
	return func(e *Extension) { e.config.EnableMetrics = true }
}

// WithMetricsFactory registers the metrics plugin on f instead of a
// PrometheusFactory on the default registry. Use it to share the host
// application's registry.
func WithMetricsFactory(f observability.MetricFactory) Option {
	return func(e *Extension) {
		e.config.EnableMetrics = true
		e.metricsFactory = f
	}
}

// WithRelayer enables the charge relayer signing with kp.
func WithRelayer(kp *authority.Keypair, opts ...relayer.Option) Option {
	return func(e *Extension) {
		e.config.RelayerEnabled = true
		e.relayerKey = kp
		e.relayerOpts = append(e.relayerOpts, opts...)
	}
}

// WithGroveDatabase sets the name of the grove.DB to resolve from the DI container.
// The extension will auto-construct the appropriate store backend (postgres/sqlite/mongo)
// based on the grove driver type. Pass an empty string to use the default (unnamed) grove.DB.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
