// Package config loads delay-server configuration from three layers,
// precedence high to low: CLI flags, a YAML file, environment variables,
// each falling back to a built-in default. Grounded on the teacher's
// cmd/can-server/config.go: flag.Visit tracks which flags were explicitly
// set so env/file values never clobber an explicit flag.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v2"
)

// Config is the fully resolved, validated delay-server configuration.
type Config struct {
	IngressPort int
	EgressPort  int
	// HoldOverride is the initial delay override in seconds. Nil means
	// absent: no override, hold time starts at zero (spec §6).
	HoldOverride *float64

	LogFormat string
	LogLevel  string

	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MDNSEnable bool
	MDNSName   string

	MaxClients        int
	AcceptTimeout     time.Duration
	MultiplexTick     time.Duration
	GuardTimeoutQueue time.Duration
	GuardTimeoutDelay time.Duration

	StatusInterval time.Duration

	HubPolicy    string
	HubClientBuf int
}

// fileConfig is the YAML file's shape. Every field is a pointer so a
// missing key is distinguishable from an explicit zero value.
type fileConfig struct {
	IngressPort       *int     `yaml:"ingress_port"`
	EgressPort        *int     `yaml:"egress_port"`
	HoldSeconds       *float64 `yaml:"hold_seconds"`
	LogFormat         *string  `yaml:"log_format"`
	LogLevel          *string  `yaml:"log_level"`
	MetricsAddr       *string  `yaml:"metrics_addr"`
	RedisAddr         *string  `yaml:"redis_addr"`
	RedisPassword     *string  `yaml:"redis_password"`
	RedisDB           *int     `yaml:"redis_db"`
	MDNSEnable        *bool    `yaml:"mdns_enable"`
	MDNSName          *string  `yaml:"mdns_name"`
	MaxClients        *int     `yaml:"max_clients"`
	AcceptTimeout     *string  `yaml:"accept_timeout"`
	MultiplexTick     *string  `yaml:"multiplex_tick"`
	GuardTimeoutQueue *string  `yaml:"guard_timeout_queue"`
	GuardTimeoutDelay *string  `yaml:"guard_timeout_delay"`
	StatusInterval    *string  `yaml:"status_interval"`
	HubPolicy         *string  `yaml:"hub_policy"`
	HubClientBuf      *int     `yaml:"hub_client_buffer"`
}

// Defaults, matching the named constants elsewhere in the module
// (endpoint.DefaultAcceptTimeout, queue.DefaultAcquireTimeout,
// delaysetting.DefaultAcquireTimeout).
const (
	defaultIngressPort       = 20000
	defaultEgressPort        = 20001
	defaultLogFormat         = "text"
	defaultLogLevel          = "info"
	defaultAcceptTimeout     = 10 * time.Millisecond
	defaultMultiplexTick     = 10 * time.Millisecond
	defaultGuardTimeoutQueue = 250 * time.Millisecond
	defaultGuardTimeoutDelay = 500 * time.Millisecond
	defaultStatusInterval    = time.Second
	defaultHubPolicy         = "drop"
	defaultHubClientBuf      = 512
)

// Load parses args (typically os.Args[1:]) against flag set name,
// applies environment variable overrides, then a YAML file if -config
// was given (so file values replace env values), then validates the
// result. Flag wins over file, file wins
// over environment, environment wins over default — identical
// precedence to the teacher's applyEnvOverrides.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	ingressPort := fs.Int("ingress-port", defaultIngressPort, "Ingress TCP port")
	egressPort := fs.Int("egress-port", defaultEgressPort, "Egress TCP port")
	holdSeconds := fs.Float64("hold-seconds", -1, "Initial delay override in seconds (negative = absent)")
	logFormat := fs.String("log-format", defaultLogFormat, "Log format: text|json")
	logLevel := fs.String("log-level", defaultLogLevel, "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", ":9100", "Metrics HTTP listen address; empty disables")
	redisAddr := fs.String("redis-addr", "", "Redis address for the status bus; empty disables")
	redisPassword := fs.String("redis-password", "", "Redis password")
	redisDB := fs.Int("redis-db", 0, "Redis database index")
	mdnsEnable := fs.Bool("mdns-enable", false, "Enable mDNS advertisement")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default delay-proxy-<hostname>)")
	maxClients := fs.Int("max-clients", 0, "Maximum simultaneous clients per endpoint (0 = unlimited)")
	acceptTimeout := fs.Duration("accept-timeout", defaultAcceptTimeout, "Listener accept retry interval")
	multiplexTick := fs.Duration("multiplex-tick", defaultMultiplexTick, "Consumer task poll interval against the delay queue head (proxy.WithConsumerPollInterval)")
	guardTimeoutQueue := fs.Duration("guard-timeout-queue", defaultGuardTimeoutQueue, "Delay queue guard acquire timeout")
	guardTimeoutDelay := fs.Duration("guard-timeout-delay", defaultGuardTimeoutDelay, "Delay setting guard acquire timeout")
	statusInterval := fs.Duration("status-interval", defaultStatusInterval, "Status snapshot publish interval")
	hubPolicy := fs.String("hub-policy", defaultHubPolicy, "Egress backpressure policy: drop|kick")
	hubClientBuf := fs.Int("hub-client-buffer", defaultHubClientBuf, "Per-client egress outbound buffer size")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	cfg := &Config{
		IngressPort:       *ingressPort,
		EgressPort:        *egressPort,
		LogFormat:         *logFormat,
		LogLevel:          *logLevel,
		MetricsAddr:       *metricsAddr,
		RedisAddr:         *redisAddr,
		RedisPassword:     *redisPassword,
		RedisDB:           *redisDB,
		MDNSEnable:        *mdnsEnable,
		MDNSName:          *mdnsName,
		MaxClients:        *maxClients,
		AcceptTimeout:     *acceptTimeout,
		MultiplexTick:     *multiplexTick,
		GuardTimeoutQueue: *guardTimeoutQueue,
		GuardTimeoutDelay: *guardTimeoutDelay,
		StatusInterval:    *statusInterval,
		HubPolicy:         *hubPolicy,
		HubClientBuf:      *hubClientBuf,
	}
	if *holdSeconds >= 0 {
		v := *holdSeconds
		cfg.HoldOverride = &v
	}

	applyEnvOverrides(cfg, set)

	if *configPath != "" {
		if err := applyFile(cfg, *configPath, set); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string, set map[string]struct{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if _, ok := set["ingress-port"]; !ok && fc.IngressPort != nil {
		cfg.IngressPort = *fc.IngressPort
	}
	if _, ok := set["egress-port"]; !ok && fc.EgressPort != nil {
		cfg.EgressPort = *fc.EgressPort
	}
	if _, ok := set["hold-seconds"]; !ok && fc.HoldSeconds != nil {
		v := *fc.HoldSeconds
		cfg.HoldOverride = &v
	}
	if _, ok := set["log-format"]; !ok && fc.LogFormat != nil {
		cfg.LogFormat = *fc.LogFormat
	}
	if _, ok := set["log-level"]; !ok && fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if _, ok := set["metrics-addr"]; !ok && fc.MetricsAddr != nil {
		cfg.MetricsAddr = *fc.MetricsAddr
	}
	if _, ok := set["redis-addr"]; !ok && fc.RedisAddr != nil {
		cfg.RedisAddr = *fc.RedisAddr
	}
	if _, ok := set["redis-password"]; !ok && fc.RedisPassword != nil {
		cfg.RedisPassword = *fc.RedisPassword
	}
	if _, ok := set["redis-db"]; !ok && fc.RedisDB != nil {
		cfg.RedisDB = *fc.RedisDB
	}
	if _, ok := set["mdns-enable"]; !ok && fc.MDNSEnable != nil {
		cfg.MDNSEnable = *fc.MDNSEnable
	}
	if _, ok := set["mdns-name"]; !ok && fc.MDNSName != nil {
		cfg.MDNSName = *fc.MDNSName
	}
	if _, ok := set["max-clients"]; !ok && fc.MaxClients != nil {
		cfg.MaxClients = *fc.MaxClients
	}
	if _, ok := set["accept-timeout"]; !ok && fc.AcceptTimeout != nil {
		if d, err := time.ParseDuration(*fc.AcceptTimeout); err == nil {
			cfg.AcceptTimeout = d
		}
	}
	if _, ok := set["multiplex-tick"]; !ok && fc.MultiplexTick != nil {
		if d, err := time.ParseDuration(*fc.MultiplexTick); err == nil {
			cfg.MultiplexTick = d
		}
	}
	if _, ok := set["guard-timeout-queue"]; !ok && fc.GuardTimeoutQueue != nil {
		if d, err := time.ParseDuration(*fc.GuardTimeoutQueue); err == nil {
			cfg.GuardTimeoutQueue = d
		}
	}
	if _, ok := set["guard-timeout-delay"]; !ok && fc.GuardTimeoutDelay != nil {
		if d, err := time.ParseDuration(*fc.GuardTimeoutDelay); err == nil {
			cfg.GuardTimeoutDelay = d
		}
	}
	if _, ok := set["status-interval"]; !ok && fc.StatusInterval != nil {
		if d, err := time.ParseDuration(*fc.StatusInterval); err == nil {
			cfg.StatusInterval = d
		}
	}
	if _, ok := set["hub-policy"]; !ok && fc.HubPolicy != nil {
		cfg.HubPolicy = *fc.HubPolicy
	}
	if _, ok := set["hub-client-buffer"]; !ok && fc.HubClientBuf != nil {
		cfg.HubClientBuf = *fc.HubClientBuf
	}
	return nil
}

// applyEnvOverrides maps DELAY_SERVER_* environment variables onto cfg,
// skipped for any field whose flag was explicitly set (flag always
// wins). An unparseable value is treated as absent: the override is
// skipped and no log entry is written for it. The same holds for
// unparseable duration strings in the YAML file.
func applyEnvOverrides(cfg *Config, set map[string]struct{}) {
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	if _, ok := set["ingress-port"]; !ok {
		if v, ok := get("DELAY_SERVER_INGRESS_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.IngressPort = n
			}
		}
	}
	if _, ok := set["egress-port"]; !ok {
		if v, ok := get("DELAY_SERVER_EGRESS_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.EgressPort = n
			}
		}
	}
	if _, ok := set["hold-seconds"]; !ok {
		if v, ok := get("DELAY_SERVER_HOLD_SECONDS"); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.HoldOverride = &f
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("DELAY_SERVER_LOG_FORMAT"); ok && v != "" {
			cfg.LogFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("DELAY_SERVER_LOG_LEVEL"); ok && v != "" {
			cfg.LogLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("DELAY_SERVER_METRICS_ADDR"); ok {
			cfg.MetricsAddr = v
		}
	}
	if _, ok := set["redis-addr"]; !ok {
		if v, ok := get("DELAY_SERVER_REDIS_ADDR"); ok {
			cfg.RedisAddr = v
		}
	}
	if _, ok := set["redis-password"]; !ok {
		if v, ok := get("DELAY_SERVER_REDIS_PASSWORD"); ok {
			cfg.RedisPassword = v
		}
	}
	if _, ok := set["redis-db"]; !ok {
		if v, ok := get("DELAY_SERVER_REDIS_DB"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.RedisDB = n
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("DELAY_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				cfg.MDNSEnable = true
			case "0", "false", "no", "off":
				cfg.MDNSEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("DELAY_SERVER_MDNS_NAME"); ok && v != "" {
			cfg.MDNSName = v
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("DELAY_SERVER_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				cfg.MaxClients = n
			}
		}
	}
	if _, ok := set["accept-timeout"]; !ok {
		if v, ok := get("DELAY_SERVER_ACCEPT_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.AcceptTimeout = d
			}
		}
	}
	if _, ok := set["status-interval"]; !ok {
		if v, ok := get("DELAY_SERVER_STATUS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				cfg.StatusInterval = d
			}
		}
	}
	if _, ok := set["hub-policy"]; !ok {
		if v, ok := get("DELAY_SERVER_HUB_POLICY"); ok && v != "" {
			cfg.HubPolicy = v
		}
	}
	if _, ok := set["hub-client-buffer"]; !ok {
		if v, ok := get("DELAY_SERVER_HUB_CLIENT_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.HubClientBuf = n
			}
		}
	}
}

// validate performs semantic validation only; it never dials a port or
// opens a file.
func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	if c.IngressPort < 0 || c.IngressPort > 65535 {
		return fmt.Errorf("ingress-port out of range: %d", c.IngressPort)
	}
	if c.EgressPort < 0 || c.EgressPort > 65535 {
		return fmt.Errorf("egress-port out of range: %d", c.EgressPort)
	}
	if c.HoldOverride != nil && *c.HoldOverride < 0 {
		return fmt.Errorf("hold-seconds must be >= 0, got %v", *c.HoldOverride)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.AcceptTimeout <= 0 {
		return errors.New("accept-timeout must be > 0")
	}
	if c.GuardTimeoutQueue <= 0 {
		return errors.New("guard-timeout-queue must be > 0")
	}
	if c.GuardTimeoutDelay <= 0 {
		return errors.New("guard-timeout-delay must be > 0")
	}
	switch c.HubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.HubPolicy)
	}
	if c.HubClientBuf <= 0 {
		return fmt.Errorf("hub-client-buffer must be > 0 (got %d)", c.HubClientBuf)
	}
	return nil
}
