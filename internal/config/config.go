package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dispatch modes select where push notifications are delivered.
const (
	DispatchGateway = "gateway"
	DispatchBus     = "bus"
	DispatchBoth    = "both"
)

// Config holds all runtime configuration for the dialmobile daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	TLSCert   string
	TLSKey    string
	LogLevel  string
	LogFormat string // log output format: "text" or "json"

	NATSURL    string
	BusPrefix  string // subject prefix for inbound and outbound bus events
	BusWorkers int

	ARIURL          string // base URL of the telephony REST interface, e.g. "http://localhost:5039/ari"
	ARIUsername     string
	ARIPassword     string
	ResolveTimeout  time.Duration
	DispatchTimeout time.Duration

	DispatchMode   string // one of DispatchGateway, DispatchBus, DispatchBoth
	PushGatewayURL string // URL of the push gateway service
	LicenseKey     string // license key for the push gateway
	JWTSecret      string // hex-encoded 32-byte secret for mobile app JWT verification

	BridgePrefix       string
	WaitContext        string
	MobileTechnologies string // comma-separated channel technologies used by mobile apps
	PendingPushTTL     time.Duration
	MobileHints        bool // keep the users' mobile device-state hints in sync with their sessions
}

// defaults
const (
	defaultDataDir            = "./data"
	defaultHTTPPort           = 9500
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultBusPrefix          = "accent"
	defaultBusWorkers         = 8
	defaultARIURL             = "http://127.0.0.1:5039/ari"
	defaultResolveTimeout     = 2 * time.Second
	defaultDispatchTimeout    = 5 * time.Second
	defaultDispatchMode       = DispatchBus
	defaultBridgePrefix       = "accent-dial-mobile-"
	defaultWaitContext        = "accent_wait_for_registration"
	defaultMobileTechnologies = "PJSIP"
)

// envPrefix is the prefix for all dialmobile environment variables.
const envPrefix = "DIALMOBILE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialmobiled", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the push token database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.NATSURL, "nats-url", defaultNATSURL, "NATS server URL for the event bus")
	fs.StringVar(&cfg.BusPrefix, "bus-prefix", defaultBusPrefix, "subject prefix of bus events")
	fs.IntVar(&cfg.BusWorkers, "bus-workers", defaultBusWorkers, "maximum number of bus event handlers running at once")
	fs.StringVar(&cfg.ARIURL, "ari-url", defaultARIURL, "base URL of the telephony REST interface")
	fs.StringVar(&cfg.ARIUsername, "ari-username", "", "username for the telephony REST interface")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "", "password for the telephony REST interface")
	fs.DurationVar(&cfg.ResolveTimeout, "resolve-timeout", defaultResolveTimeout, "timeout for each channel lookup")
	fs.DurationVar(&cfg.DispatchTimeout, "dispatch-timeout", defaultDispatchTimeout, "timeout for each push or cancel dispatch")
	fs.StringVar(&cfg.DispatchMode, "dispatch-mode", defaultDispatchMode, "where pushes are delivered (gateway, bus, both)")
	fs.StringVar(&cfg.PushGatewayURL, "push-gateway-url", "", "URL of the push gateway service for mobile push notifications")
	fs.StringVar(&cfg.LicenseKey, "license-key", "", "license key for authenticating with the push gateway")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for mobile app JWT verification (auto-generated if empty)")
	fs.StringVar(&cfg.BridgePrefix, "bridge-prefix", defaultBridgePrefix, "id prefix of the bridges joining a mobile to its caller")
	fs.StringVar(&cfg.WaitContext, "wait-context", defaultWaitContext, "dial context of legs waiting for a mobile to register")
	fs.StringVar(&cfg.MobileTechnologies, "mobile-technologies", defaultMobileTechnologies, "comma-separated channel technologies used by mobile apps")
	fs.DurationVar(&cfg.PendingPushTTL, "pending-push-ttl", 0, "drop unresolved pushes older than this (0 disables)")
	fs.BoolVar(&cfg.MobileHints, "mobile-hints", true, "update each user's Custom:<user>-mobile device state on mobile session changes")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	strs := map[string]*string{
		"data-dir":            &cfg.DataDir,
		"tls-cert":            &cfg.TLSCert,
		"tls-key":             &cfg.TLSKey,
		"log-level":           &cfg.LogLevel,
		"log-format":          &cfg.LogFormat,
		"nats-url":            &cfg.NATSURL,
		"bus-prefix":          &cfg.BusPrefix,
		"ari-url":             &cfg.ARIURL,
		"ari-username":        &cfg.ARIUsername,
		"ari-password":        &cfg.ARIPassword,
		"dispatch-mode":       &cfg.DispatchMode,
		"push-gateway-url":    &cfg.PushGatewayURL,
		"license-key":         &cfg.LicenseKey,
		"jwt-secret":          &cfg.JWTSecret,
		"bridge-prefix":       &cfg.BridgePrefix,
		"wait-context":        &cfg.WaitContext,
		"mobile-technologies": &cfg.MobileTechnologies,
	}
	ints := map[string]*int{
		"http-port":   &cfg.HTTPPort,
		"bus-workers": &cfg.BusWorkers,
	}
	durations := map[string]*time.Duration{
		"resolve-timeout":  &cfg.ResolveTimeout,
		"dispatch-timeout": &cfg.DispatchTimeout,
		"pending-push-ttl": &cfg.PendingPushTTL,
	}
	bools := map[string]*bool{
		"mobile-hints": &cfg.MobileHints,
	}

	lookup := func(flagName string) (string, bool) {
		if set[flagName] {
			return "", false
		}
		val, ok := os.LookupEnv(envName(flagName))
		if !ok || val == "" {
			return "", false
		}
		return val, true
	}

	for name, dst := range strs {
		if val, ok := lookup(name); ok {
			*dst = val
		}
	}
	for name, dst := range ints {
		if val, ok := lookup(name); ok {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	for name, dst := range durations {
		if val, ok := lookup(name); ok {
			if v, err := time.ParseDuration(val); err == nil {
				*dst = v
			}
		}
	}
	for name, dst := range bools {
		if val, ok := lookup(name); ok {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}
}

// envName maps a flag name to its environment variable, e.g. "nats-url" to
// "DIALMOBILE_NATS_URL".
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	// TLS cert and key must both be set or both be empty.
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}

	if c.NATSURL == "" {
		return fmt.Errorf("nats-url is required")
	}
	if c.BusPrefix == "" {
		return fmt.Errorf("bus-prefix is required")
	}
	if c.BusWorkers < 1 {
		return fmt.Errorf("bus-workers must be at least 1, got %d", c.BusWorkers)
	}
	if c.ARIURL == "" {
		return fmt.Errorf("ari-url is required")
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve-timeout must be positive, got %s", c.ResolveTimeout)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch-timeout must be positive, got %s", c.DispatchTimeout)
	}
	if c.PendingPushTTL < 0 {
		return fmt.Errorf("pending-push-ttl must not be negative, got %s", c.PendingPushTTL)
	}

	c.DispatchMode = strings.ToLower(c.DispatchMode)
	switch c.DispatchMode {
	case DispatchBus:
	case DispatchGateway, DispatchBoth:
		if c.PushGatewayURL == "" {
			return fmt.Errorf("push-gateway-url is required for dispatch-mode %q", c.DispatchMode)
		}
	default:
		return fmt.Errorf("dispatch-mode must be one of gateway, bus, both; got %q", c.DispatchMode)
	}

	if c.BridgePrefix == "" {
		return fmt.Errorf("bridge-prefix is required")
	}
	if c.WaitContext == "" {
		return fmt.Errorf("wait-context is required")
	}
	if len(c.Technologies()) == 0 {
		return fmt.Errorf("mobile-technologies must name at least one technology")
	}

	return nil
}

// TLSEnabled returns true if TLS certificates are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// UsesGateway reports whether pushes go through the push gateway.
func (c *Config) UsesGateway() bool {
	return c.DispatchMode == DispatchGateway || c.DispatchMode == DispatchBoth
}

// UsesBus reports whether pushes are published on the event bus.
func (c *Config) UsesBus() bool {
	return c.DispatchMode == DispatchBus || c.DispatchMode == DispatchBoth
}

// Technologies returns the configured mobile channel technologies.
func (c *Config) Technologies() []string {
	var out []string
	for _, t := range strings.Split(c.MobileTechnologies, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (mobile apps cannot register tokens)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
