package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the deskrouter control plane.
type Config struct {
	Port      int
	Version   string
	Index     IndexConfig
	Routing   RoutingConfig
	Orchestra OrchestratorConfig
	Broadcast BroadcastConfig
	Telemetry TelemetryConfig
}

type IndexConfig struct {
	// ProfilePath points at a JSON file of agent profiles. Empty means
	// builtin defaults only.
	ProfilePath     string
	RefreshInterval time.Duration
}

type RoutingConfig struct {
	// DefaultAgent is selected when every profile scores zero.
	DefaultAgent string
	// EscalationRule is an optional expr expression OR-ed with the builtin
	// escalation rule. Env: complexity, sentiment, recommended_count, top_score.
	EscalationRule string
}

type OrchestratorConfig struct {
	// BackendURL is the execution backend endpoint. Empty selects the
	// canned local backend.
	BackendURL        string
	BackendTimeout    time.Duration
	EscalationTimeout time.Duration
	// FeedbackWindow is how long settled sessions stay in the registry.
	FeedbackWindow time.Duration
}

type BroadcastConfig struct {
	QueueSize    int
	PingInterval time.Duration
	PongTimeout  time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("DESKROUTER_PORT", 8080),
		Version: envStr("DESKROUTER_VERSION", "0.2.0"),
		Index: IndexConfig{
			ProfilePath:     envStr("DESKROUTER_PROFILE_PATH", ""),
			RefreshInterval: envDur("DESKROUTER_INDEX_REFRESH_INTERVAL", 5*time.Minute),
		},
		Routing: RoutingConfig{
			DefaultAgent:   envStr("DESKROUTER_DEFAULT_AGENT", "general"),
			EscalationRule: envStr("DESKROUTER_ESCALATION_RULE", ""),
		},
		Orchestra: OrchestratorConfig{
			BackendURL:        envStr("DESKROUTER_BACKEND_URL", ""),
			BackendTimeout:    envDur("DESKROUTER_BACKEND_TIMEOUT", 60*time.Second),
			EscalationTimeout: envDur("DESKROUTER_ESCALATION_TIMEOUT", 10*time.Minute),
			FeedbackWindow:    envDur("DESKROUTER_FEEDBACK_WINDOW", 15*time.Minute),
		},
		Broadcast: BroadcastConfig{
			QueueSize:    envInt("DESKROUTER_BROADCAST_QUEUE", 64),
			PingInterval: envDur("DESKROUTER_PING_INTERVAL", 15*time.Second),
			PongTimeout:  envDur("DESKROUTER_PONG_TIMEOUT", 45*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "deskrouter-control-plane"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
