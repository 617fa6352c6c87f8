package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultAddr is the default TCP address the engine listens on.
	DefaultAddr = ":8585"
	// DefaultMapPath points at the textual city map loaded during Initialize.
	DefaultMapPath = "maps/city.txt"

	// DefaultGreenTicks is the green phase duration in simulation ticks.
	DefaultGreenTicks = 6
	// DefaultYellowTicks is the yellow phase duration in simulation ticks.
	DefaultYellowTicks = 2
	// DefaultRedTicks is the red phase duration in simulation ticks.
	DefaultRedTicks = 6

	// DefaultSpawnInterval controls how many ticks elapse between spawn attempts.
	DefaultSpawnInterval = 2
	// DefaultPopulationCap bounds the number of live vehicles. Zero disables the cap.
	DefaultPopulationCap = 128
	// DefaultRerouteThreshold is how many consecutive waiting ticks trigger a replan.
	DefaultRerouteThreshold = 3
	// DefaultSeed makes destination assignment reproducible between runs.
	DefaultSeed int64 = 1

	// DefaultAutoStepHz drives the optional free-running mode. Zero means steps
	// are only taken on external request.
	DefaultAutoStepHz float64 = 0

	// DefaultLogLevel controls verbosity for engine logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "gridflow.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultStatsPath is the fallback JSON file for run statistics when no
	// Postgres DSN is configured.
	DefaultStatsPath = "gridflow-stats.json"
)

// Config captures all runtime tunables for the simulation engine.
type Config struct {
	Address          string
	MapPath          string
	GreenTicks       int
	YellowTicks      int
	RedTicks         int
	SpawnInterval    int
	PopulationCap    int
	RerouteThreshold int
	Seed             int64
	AutoStepHz       float64
	ReplayDir        string
	StatsDSN         string
	StatsPath        string
	Logging          LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the engine configuration from environment variables, applying sane
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("GRIDFLOW_ADDR", DefaultAddr),
		MapPath:          getString("GRIDFLOW_MAP", DefaultMapPath),
		GreenTicks:       DefaultGreenTicks,
		YellowTicks:      DefaultYellowTicks,
		RedTicks:         DefaultRedTicks,
		SpawnInterval:    DefaultSpawnInterval,
		PopulationCap:    DefaultPopulationCap,
		RerouteThreshold: DefaultRerouteThreshold,
		Seed:             DefaultSeed,
		AutoStepHz:       DefaultAutoStepHz,
		ReplayDir:        strings.TrimSpace(os.Getenv("GRIDFLOW_REPLAY_DIR")),
		StatsDSN:         strings.TrimSpace(os.Getenv("GRIDFLOW_STATS_DSN")),
		StatsPath:        getString("GRIDFLOW_STATS_PATH", DefaultStatsPath),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("GRIDFLOW_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("GRIDFLOW_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	parsePositive := func(key string, target *int) {
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value <= 0 {
				problems = append(problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
			} else {
				*target = value
			}
		}
	}
	parseNonNegative := func(key string, target *int) {
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value < 0 {
				problems = append(problems, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
			} else {
				*target = value
			}
		}
	}

	parsePositive("GRIDFLOW_GREEN_TICKS", &cfg.GreenTicks)
	parsePositive("GRIDFLOW_YELLOW_TICKS", &cfg.YellowTicks)
	parsePositive("GRIDFLOW_RED_TICKS", &cfg.RedTicks)
	parsePositive("GRIDFLOW_SPAWN_INTERVAL", &cfg.SpawnInterval)
	parseNonNegative("GRIDFLOW_POPULATION_CAP", &cfg.PopulationCap)
	parsePositive("GRIDFLOW_REROUTE_THRESHOLD", &cfg.RerouteThreshold)
	parsePositive("GRIDFLOW_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	parseNonNegative("GRIDFLOW_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	parseNonNegative("GRIDFLOW_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)

	if raw := strings.TrimSpace(os.Getenv("GRIDFLOW_SEED")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("GRIDFLOW_SEED must be an integer, got %q", raw))
		} else {
			cfg.Seed = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GRIDFLOW_AUTOSTEP_HZ")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GRIDFLOW_AUTOSTEP_HZ must be a non-negative number, got %q", raw))
		} else {
			cfg.AutoStepHz = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GRIDFLOW_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("GRIDFLOW_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
