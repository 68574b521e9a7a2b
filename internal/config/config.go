// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// VenueKind identifies which adapter variant backs a configured venue.
// The set is closed: venues are resolved at configuration time, never
// discovered dynamically.
type VenueKind string

const (
	// VenueKindStatic is a deterministic adapter with a fixed projected rate.
	VenueKindStatic VenueKind = "static"
	// VenueKindRest wraps an external venue reachable over HTTP.
	VenueKindRest VenueKind = "rest"
)

// VenueConfig describes one yield venue the router may deploy capital into.
type VenueConfig struct {
	Name    string    // Unique venue identifier (e.g. "aave-v3")
	Kind    VenueKind // Adapter variant
	RateBps int64     // Projected annualized rate in basis points (static venues)
	BaseURL string    // Venue API base URL (rest venues)
}

// ScoringConfig holds the decision engine weights and thresholds.
// Weights must sum to 1.0; Validate enforces this.
type ScoringConfig struct {
	APYWeight        float64 // Weight of the normalized APY component
	RiskWeight       float64 // Weight of the inverted risk score
	VolatilityWeight float64 // Weight of the inverted volatility score
	ConfidenceWeight float64 // Weight of the feed confidence component
	HysteresisMargin float64 // Score points the challenger must win by
}

// BackupConfig holds off-site backup settings (S3-compatible storage).
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // S3-compatible endpoint (e.g. Cloudflare R2)
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Keep      int // Number of remote backups to retain
}

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Roles. Owner may change configuration and lock/unlock the active
	// strategy; Agent may trigger rebalances. Explicit config, no ambient
	// global role state.
	OwnerKey string
	AgentKey string

	// Ledger behaviour
	BaseAsset     string // Asset identifier; "native" denotes the chain's native currency
	MinYieldClaim uint64 // Yield claims below this amount fail with YieldTooSmall

	// Venue set and decision engine
	Venues  []VenueConfig
	Scoring ScoringConfig

	// Metrics feed
	FeedURL       string // Pull-based metrics endpoint
	FeedStreamURL string // Optional websocket stream ("" disables streaming)

	// Schedules (cron expressions, with seconds field)
	PollSchedule     string
	DecisionSchedule string
	BackupSchedule   string
	CleanupSchedule  string

	// AutoRebalance makes the decision cycle execute its own
	// recommendations using the agent role.
	AutoRebalance bool

	// Event log retention in days. Zero keeps events forever.
	EventRetentionDays int

	Backup BackupConfig
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("COFFER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	venues, err := parseVenues(getEnv("COFFER_VENUES", "sim-lend=static:450"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse COFFER_VENUES: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("COFFER_PORT", 8010),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OwnerKey: getEnv("COFFER_OWNER_KEY", ""),
		AgentKey: getEnv("COFFER_AGENT_KEY", ""),

		BaseAsset:     getEnv("COFFER_BASE_ASSET", "usdc"),
		MinYieldClaim: uint64(getEnvAsInt("COFFER_MIN_YIELD_CLAIM", 1000)),

		Venues: venues,
		Scoring: ScoringConfig{
			APYWeight:        getEnvAsFloat("SCORING_APY_WEIGHT", 0.40),
			RiskWeight:       getEnvAsFloat("SCORING_RISK_WEIGHT", 0.30),
			VolatilityWeight: getEnvAsFloat("SCORING_VOLATILITY_WEIGHT", 0.20),
			ConfidenceWeight: getEnvAsFloat("SCORING_CONFIDENCE_WEIGHT", 0.10),
			HysteresisMargin: getEnvAsFloat("SCORING_HYSTERESIS_MARGIN", 5.0),
		},

		FeedURL:       getEnv("FEED_URL", "http://localhost:9010"),
		FeedStreamURL: getEnv("FEED_STREAM_URL", ""),

		PollSchedule:     getEnv("POLL_SCHEDULE", "0 */5 * * * *"),
		DecisionSchedule: getEnv("DECISION_SCHEDULE", "0 */15 * * * *"),
		BackupSchedule:   getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
		CleanupSchedule:  getEnv("CLEANUP_SCHEDULE", "0 30 3 * * *"),

		AutoRebalance:      getEnvAsBool("AUTO_REBALANCE", false),
		EventRetentionDays: getEnvAsInt("EVENT_RETENTION_DAYS", 0),

		Backup: BackupConfig{
			Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Bucket:    getEnv("BACKUP_S3_BUCKET", "coffer-backups"),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Keep:      getEnvAsInt("BACKUP_KEEP", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue with empty name")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate venue name: %s", v.Name)
		}
		seen[v.Name] = true
		switch v.Kind {
		case VenueKindStatic:
			if v.RateBps < 0 {
				return fmt.Errorf("venue %s: negative rate", v.Name)
			}
		case VenueKindRest:
			if v.BaseURL == "" {
				return fmt.Errorf("venue %s: rest venue requires a base URL", v.Name)
			}
		default:
			return fmt.Errorf("venue %s: unknown kind %q", v.Name, v.Kind)
		}
	}

	s := c.Scoring
	sum := s.APYWeight + s.RiskWeight + s.VolatilityWeight + s.ConfidenceWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.4f", sum)
	}
	if s.HysteresisMargin < 0 {
		return fmt.Errorf("hysteresis margin must be non-negative")
	}

	if c.Backup.Enabled && c.Backup.Endpoint == "" {
		return fmt.Errorf("backup enabled but no S3 endpoint configured")
	}

	return nil
}

// parseVenues parses the COFFER_VENUES environment variable.
//
// Format: semicolon-separated venue entries, each "name=kind:param".
//   - static venues: "aave-sim=static:450" (param is the rate in bps)
//   - rest venues:   "compound=rest:http://venue.host:9020"
func parseVenues(raw string) ([]VenueConfig, error) {
	var venues []VenueConfig
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, spec, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid venue entry %q (want name=kind:param)", entry)
		}
		kind, param, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid venue spec %q (want kind:param)", spec)
		}
		v := VenueConfig{Name: strings.TrimSpace(name)}
		switch VenueKind(kind) {
		case VenueKindStatic:
			rate, err := strconv.ParseInt(param, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("venue %s: invalid rate %q: %w", name, param, err)
			}
			v.Kind = VenueKindStatic
			v.RateBps = rate
		case VenueKindRest:
			v.Kind = VenueKindRest
			v.BaseURL = param
		default:
			return nil, fmt.Errorf("venue %s: unknown kind %q", name, kind)
		}
		venues = append(venues, v)
	}
	return venues, nil
}

// getEnv retrieves an environment variable value, returning a fallback if
// the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer.
func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsBool retrieves an environment variable as a boolean.
func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsFloat retrieves an environment variable as a float64.
func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
