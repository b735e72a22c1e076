package config

import (
	"os"
	"strconv"

	"pspec/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Analysis AnalysisConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds database connection settings. URL may be empty, in
// which case persistence is disabled and evaluations are kept in memory.
type DatabaseConfig struct {
	URL string
}

// AnalysisConfig holds the likelihood analysis settings
type AnalysisConfig struct {
	// Sources is a comma-separated list of measurement files
	Sources     []string
	LittleH     bool
	WeightByCov bool
	RunCheck    bool
	Method      string
	Strategy    string
	// ParamsList enables ordered-value parameter calls; when empty, only
	// the name->value mapping form is accepted
	ParamsList   []string
	OrthantDraws int
	Seed         uint64
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvOrDefault("PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Analysis: AnalysisConfig{
			Sources:      splitNonEmpty(getEnvOrDefault("MEASUREMENT_FILES", "")),
			LittleH:      getEnvBoolOrDefault("LITTLE_H", true),
			WeightByCov:  getEnvBoolOrDefault("WEIGHT_BY_COV", true),
			RunCheck:     getEnvBoolOrDefault("RUN_CHECK", true),
			Method:       getEnvOrDefault("BINNING_METHOD", "bin_center"),
			Strategy:     getEnvOrDefault("LIKELIHOOD_STRATEGY", "gaussian"),
			ParamsList:   splitNonEmpty(getEnvOrDefault("PARAMS_LIST", "")),
			OrthantDraws: getEnvIntOrDefault("ORTHANT_DRAWS", 1<<17),
			Seed:         uint64(getEnvIntOrDefault("SEED", 1)),
		},
	}

	switch cfg.Analysis.Method {
	case "bin_center", "two_point", "integrate":
	default:
		return nil, errors.ConfigInvalid("BINNING_METHOD must be bin_center, two_point or integrate")
	}
	if cfg.Analysis.OrthantDraws <= 0 {
		return nil, errors.ConfigInvalid("ORTHANT_DRAWS must be positive")
	}
	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
