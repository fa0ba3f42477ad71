package cluster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bbcarchdev/libcluster/internal/identity"
)

// Config carries the member configuration. All of it is immutable once the
// cluster has been joined; the setters on Cluster return ErrNotPermitted
// after Join.
//
// Duration fields accept standard Go duration strings ("30s", "2m") when
// loaded from a file or the environment.
type Config struct {
	// Key is the cluster name: up to 32 alphanumeric or hyphen characters.
	Key string `yaml:"key" validate:"required,max=32,clusterkey"`

	// Environment is the namespace within a key. Defaults to "production".
	Environment string `yaml:"environment" validate:"omitempty,max=32,alphanum"`

	// Partition is an optional sub-namespace within an environment.
	Partition string `yaml:"partition" validate:"omitempty,max=32,alphanum"`

	// InstanceID uniquely and stably identifies this process instance:
	// 2 to 32 alphanumeric characters. A fresh 32-character hex token is
	// generated when unset.
	InstanceID string `yaml:"instanceId" validate:"omitempty,min=2,max=32,alphanum"`

	// Workers is the number of worker slots this member contributes.
	// Defaults to 1.
	Workers int `yaml:"workers" validate:"min=1"`

	// TTL is how long registry entries live without a refresh. Entries of
	// crashed members disappear after at most this long. Defaults to 120s.
	TTL time.Duration `yaml:"ttl"`

	// Refresh is the heartbeat period. Keep it below TTL/2 so a single
	// failed heartbeat cannot expire the entry. Defaults to 30s.
	Refresh time.Duration `yaml:"refresh"`

	// Registry is the endpoint URI selecting the backend: http(s) for etcd,
	// nats for NATS JetStream KV, mysql/postgres/sqlite for SQL. Empty
	// selects static mode.
	Registry string `yaml:"registry"`

	// OperationTimeout bounds individual registry calls (announce, retract,
	// snapshot). Defaults to 10s.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ForkPolicy selects which side of a process fork resumes cluster
	// membership. Defaults to ForkChild.
	ForkPolicy ForkPolicy `yaml:"forkPolicy"`

	// StaticIndex is this member's base index in static mode.
	StaticIndex int `yaml:"staticIndex"`

	// StaticTotal is the cluster-wide worker total in static mode.
	StaticTotal int `yaml:"staticTotal"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Cluster keys additionally allow hyphens.
	_ = v.RegisterValidation("clusterkey", func(fl validator.FieldLevel) bool {
		return identity.ValidKey(fl.Field().String())
	})

	return v
}

// DefaultConfig returns a Config with production defaults applied.
// The Key and InstanceID fields are left for the caller to fill in.
func DefaultConfig() Config {
	return Config{
		Environment:      "production",
		Workers:          1,
		TTL:              120 * time.Second,
		Refresh:          30 * time.Second,
		OperationTimeout: 10 * time.Second,
		ForkPolicy:       ForkChild,
	}
}

// SetDefaults fills in missing configuration values with production
// defaults. A missing instance ID is replaced by a fresh random token.
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Environment == "" {
		cfg.Environment = defaults.Environment
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = identity.NewToken()
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.Refresh == 0 {
		cfg.Refresh = defaults.Refresh
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ForkPolicy == 0 {
		cfg.ForkPolicy = defaults.ForkPolicy
	}
}

// Validate checks the configuration and returns an error describing the
// first violated constraint. Field-level identifier rules are enforced
// through struct tags; the one-second minimums on TTL and Refresh are
// checked here. The refresh-below-half-TTL guidance is only a warning, from
// ValidateWithWarnings.
func (cfg *Config) Validate() error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]

			return fmt.Errorf("%w: field %s failed rule %q", ErrInvalidArgument, fe.Field(), fe.Tag())
		}

		return fmt.Errorf("%w: %s", ErrInvalidArgument, err.Error())
	}

	if cfg.TTL < time.Second {
		return fmt.Errorf("%w: TTL (%v) must be at least one second", ErrInvalidArgument, cfg.TTL)
	}
	if cfg.Refresh < time.Second {
		return fmt.Errorf("%w: Refresh (%v) must be at least one second", ErrInvalidArgument, cfg.Refresh)
	}

	return nil
}

// ValidateWithWarnings logs guidance for legal but not recommended values.
// Called after Validate once a logger is available.
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.Refresh >= cfg.TTL/2 {
		logger.Warn(
			"refresh period is not below half the TTL; a single failed heartbeat may expire this member",
			"refresh", cfg.Refresh,
			"ttl", cfg.TTL,
			"recommended", cfg.TTL/2-time.Second,
		)
	}
}

// envPrefix is the environment-variable prefix recognized by LoadConfig:
// CLUSTER_KEY, CLUSTER_REGISTRY, CLUSTER_TTL and so on.
const envPrefix = "CLUSTER_"

// LoadConfig reads a YAML configuration file, layers CLUSTER_* environment
// variables over it, and applies defaults. Pass an empty path to load from
// the environment alone.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "yaml",
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}

	SetDefaults(&cfg)

	return cfg, nil
}
