package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// clearEnv unsets every DIALMOBILE_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"data-dir", "http-port", "tls-cert", "tls-key", "log-level", "log-format",
		"nats-url", "bus-prefix", "bus-workers", "ari-url", "ari-username", "ari-password",
		"resolve-timeout", "dispatch-timeout", "dispatch-mode", "push-gateway-url",
		"license-key", "jwt-secret", "bridge-prefix", "wait-context",
		"mobile-technologies", "pending-push-ttl", "mobile-hints",
	} {
		env := envName(name)
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	os.Args = []string{"dialmobiled"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.BusPrefix != "accent" {
		t.Errorf("BusPrefix = %q, want accent", cfg.BusPrefix)
	}
	if cfg.DispatchMode != DispatchBus {
		t.Errorf("DispatchMode = %q, want %q", cfg.DispatchMode, DispatchBus)
	}
	if cfg.ResolveTimeout != 2*time.Second {
		t.Errorf("ResolveTimeout = %s, want 2s", cfg.ResolveTimeout)
	}
	if cfg.PendingPushTTL != 0 {
		t.Errorf("PendingPushTTL = %s, want 0", cfg.PendingPushTTL)
	}
	if cfg.BridgePrefix != "accent-dial-mobile-" {
		t.Errorf("BridgePrefix = %q", cfg.BridgePrefix)
	}
	if cfg.WaitContext != "accent_wait_for_registration" {
		t.Errorf("WaitContext = %q", cfg.WaitContext)
	}
	if cfg.UsesGateway() || !cfg.UsesBus() {
		t.Error("default dispatch should use the bus only")
	}
	if !cfg.MobileHints {
		t.Error("MobileHints should default to true")
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"dialmobiled"}
	t.Setenv("DIALMOBILE_HTTP_PORT", "9090")
	t.Setenv("DIALMOBILE_DATA_DIR", "/tmp/dialmobile-test")
	t.Setenv("DIALMOBILE_LOG_LEVEL", "debug")
	t.Setenv("DIALMOBILE_PENDING_PUSH_TTL", "10m")
	t.Setenv("DIALMOBILE_NATS_URL", "nats://bus:4222")
	t.Setenv("DIALMOBILE_MOBILE_HINTS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/dialmobile-test" {
		t.Errorf("DataDir = %q, want /tmp/dialmobile-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.PendingPushTTL != 10*time.Minute {
		t.Errorf("PendingPushTTL = %s, want 10m", cfg.PendingPushTTL)
	}
	if cfg.NATSURL != "nats://bus:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if cfg.MobileHints {
		t.Error("MobileHints = true, want false from env")
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"dialmobiled", "--http-port", "3000", "--log-level", "warn", "--resolve-timeout", "500ms"}
	t.Setenv("DIALMOBILE_HTTP_PORT", "9090")
	t.Setenv("DIALMOBILE_LOG_LEVEL", "debug")
	t.Setenv("DIALMOBILE_RESOLVE_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
	if cfg.ResolveTimeout != 500*time.Millisecond {
		t.Errorf("ResolveTimeout = %s, want 500ms (CLI should override env)", cfg.ResolveTimeout)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"dialmobiled", "--http-port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"dialmobiled", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateTLSMismatch(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"dialmobiled", "--tls-cert", "cert.pem"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when tls-cert provided without tls-key")
	}
}

func TestValidateDispatchMode(t *testing.T) {
	clearEnv(t)

	os.Args = []string{"dialmobiled", "--dispatch-mode", "carrier-pigeon"}
	if _, err := Load(); err == nil {
		t.Error("expected error for unknown dispatch mode")
	}

	os.Args = []string{"dialmobiled", "--dispatch-mode", "gateway"}
	if _, err := Load(); err == nil {
		t.Error("expected error for gateway mode without push-gateway-url")
	}

	os.Args = []string{"dialmobiled", "--dispatch-mode", "BOTH", "--push-gateway-url", "https://push.example.com"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.UsesGateway() || !cfg.UsesBus() {
		t.Error("both mode should use gateway and bus")
	}
}

func TestValidateNegativeTTL(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"dialmobiled", "--pending-push-ttl", "-1m"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative pending-push-ttl")
	}
}

func TestTechnologies(t *testing.T) {
	cfg := &Config{MobileTechnologies: " PJSIP, ,SIP "}
	got := cfg.Technologies()
	if len(got) != 2 || got[0] != "PJSIP" || got[1] != "SIP" {
		t.Errorf("Technologies() = %v, want [PJSIP SIP]", got)
	}
}

func TestJWTSecretBytes(t *testing.T) {
	cfg := &Config{JWTSecret: "zz"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for non-hex secret")
	}

	cfg = &Config{JWTSecret: "abcd"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for short secret")
	}

	cfg = &Config{}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 || cfg.JWTSecret == "" {
		t.Error("expected generated 32-byte secret stored on config")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
