// Package config loads and validates the controller's immutable Config
// record from a YAML file plus environment variable overrides, the same
// loading stack the teacher daemon already used for its own settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/zapretctl/zapret-ng/internal/errs"
	"github.com/zapretctl/zapret-ng/internal/netiface"
)

// AnyInterface is the sentinel meaning "apply rules regardless of egress
// interface".
const AnyInterface = "any"

// Config is the controller's validated, immutable settings record. It is
// created once at startup and never mutated afterward.
type Config struct {
	// StrategyFile is the path to the strategy (.bat-shaped) file compiled
	// by the strategy compiler.
	StrategyFile string `yaml:"strategy" env:"ZAPRET_STRATEGY"`

	// Interface is the egress interface name, or AnyInterface.
	Interface string `yaml:"interface" env:"ZAPRET_INTERFACE" env-default:"any"`

	// GameFilterEnabled toggles the %GameFilter% substitution token.
	GameFilterEnabled bool `yaml:"gamefilter" env:"ZAPRET_GAMEFILTER"`

	// WorkerBinary is the path to the nfqws-shaped worker executable.
	WorkerBinary string `yaml:"nfqws_path" env:"ZAPRET_NFQWS_PATH"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" env:"ZAPRET_DEBUG"`

	// NonInteractive disables interactive configuration prompting (handled
	// entirely outside this module; carried here only so external glue can
	// read the operator's preference from one config record).
	NonInteractive bool `yaml:"nointeractive" env:"ZAPRET_NOINTERACTIVE"`

	// SocketPath is the Unix socket the IPC endpoint binds.
	SocketPath string `yaml:"socket_path" env:"ZAPRET_SOCKET_PATH" env-default:"/var/run/zapret.sock"`

	// PidFile is written on daemon start and removed on clean exit.
	PidFile string `yaml:"pid_file" env:"ZAPRET_PID_FILE" env-default:"/var/run/zapret.pid"`

	// LogFile, if set, duplicates structured log output to a file in
	// addition to stderr.
	LogFile string `yaml:"log_file" env:"ZAPRET_LOG_FILE"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"-" env:"ZAPRET_LOG_LEVEL" env-default:"info"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" env:"ZAPRET_LOG_FORMAT" env-default:"text"`

	// RouterMode enables the additional NAT postrouting masquerade rule.
	RouterMode bool `yaml:"router_mode" env:"ZAPRET_ROUTER_MODE"`

	// EnvFile, when set, is loaded into the process environment (via
	// godotenv) before the ZAPRET_* environment overrides above are read.
	EnvFile string `yaml:"env_file" env:"ZAPRET_ENV_FILE"`
}

// Load reads configPath (if it exists) and then applies environment
// variable overrides. envFile, if non-empty, is loaded into the process
// environment first so its values participate in the override pass; when
// it is empty, the env_file key (or ZAPRET_ENV_FILE) is loaded instead,
// before the override pass.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errs.New(errs.ConfigValidation, err, "file", envFile)
		}
	}

	cfg := &Config{}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
				return nil, errs.New(errs.ConfigValidation, fmt.Errorf("read config file: %w", err), "file", configPath)
			}
		} else if !os.IsNotExist(err) {
			return nil, errs.New(errs.ConfigValidation, err, "file", configPath)
		}
	}

	if envFile == "" {
		if envFile = cfg.EnvFile; envFile == "" {
			envFile = os.Getenv("ZAPRET_ENV_FILE")
		}
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return nil, errs.New(errs.ConfigValidation, err, "file", envFile)
			}
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errs.New(errs.ConfigValidation, fmt.Errorf("read environment: %w", err))
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	cfg.normalizePaths()

	return cfg, nil
}

// normalizePaths resolves relative path fields against the running
// binary's directory, per the spec's stable-base-directory invariant.
func (c *Config) normalizePaths() {
	base, err := baseDir()
	if err != nil {
		return
	}
	for _, p := range []*string{&c.StrategyFile, &c.WorkerBinary, &c.SocketPath, &c.PidFile, &c.LogFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func baseDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// Validate enforces the Config invariants. StrategyFile and WorkerBinary
// must resolve to readable files; a non-"any" Interface absent from the
// kernel's interface enumeration is a warning, not a failure.
func (c *Config) Validate(logger *slog.Logger) error {
	if c.StrategyFile == "" {
		return errs.New(errs.ConfigValidation, fmt.Errorf("strategy file must be specified"))
	}
	if _, err := os.Stat(c.StrategyFile); err != nil {
		return errs.New(errs.ConfigValidation, fmt.Errorf("strategy file not readable: %w", err), "file", c.StrategyFile)
	}

	if c.WorkerBinary == "" {
		return errs.New(errs.ConfigValidation, fmt.Errorf("worker binary must be specified"))
	}
	if _, err := os.Stat(c.WorkerBinary); err != nil {
		return errs.New(errs.ConfigValidation, fmt.Errorf("worker binary not readable: %w", err), "file", c.WorkerBinary)
	}

	if c.Interface == "" {
		return errs.New(errs.ConfigValidation, fmt.Errorf("interface must be %q or a specific name", AnyInterface))
	}

	if c.Interface != AnyInterface {
		present, err := netiface.Exists(c.Interface)
		if err != nil && logger != nil {
			logger.Warn("interface enumeration failed", slog.String("component", "config"), slog.String("operation", "validate"), slog.Any("error", err))
		} else if !present && logger != nil {
			logger.Warn("configured interface not present on host",
				slog.String("component", "config"),
				slog.String("operation", "validate"),
				slog.String("interface", c.Interface),
			)
		}
	}

	return nil
}

// Redacted returns a copy of c safe to return over IPC: nothing in Config
// is currently a secret, but this is the single seam external callers
// should use so a future secret field cannot leak by omission.
func (c *Config) Redacted() Config {
	return *c
}
