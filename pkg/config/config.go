package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Log    LogConfig
	Engine EngineConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig carries every tunable of the scheduling pipeline. Defaults
// match the documented behaviour of each stage; tests rely on them.
type EngineConfig struct {
	PeriodsPerDay  int
	DaysPerWeek    int
	PeriodDuration time.Duration
	DayStart       string

	FeasibilityThreshold float64

	PopulationSize int

	CSP  CSPConfig
	GA   GAConfig
	SA   SAConfig
	Tabu TabuConfig

	Validator ValidatorConfig
	Weights   WeightsConfig

	SessionTTL time.Duration
	Workers    int
}

// CSPConfig bounds the systematic search stage.
type CSPConfig struct {
	TimeBudget   time.Duration
	MaxSolutions int
}

// GAConfig tunes the genetic optimizer.
type GAConfig struct {
	Generations        int
	StallWindow        int
	EliteCount         int
	MutationRate       float64
	DiversityThreshold float64
}

// SAConfig tunes simulated annealing.
type SAConfig struct {
	InitialTemperature float64
	CoolingRate        float64
	MinTemperature     float64
	MaxIterations      int
}

// TabuConfig tunes tabu search.
type TabuConfig struct {
	Tenure           int
	NeighborhoodSize int
	MaxIterations    int
}

// ValidatorConfig tunes the live edit validator.
type ValidatorConfig struct {
	CacheSize    int
	Alternatives int
}

// WeightsConfig selects how undefined soft sub-scores are treated: neutral
// (counted as 0.5) or excluded with the remaining weights renormalized.
type WeightsConfig struct {
	RenormalizeMissing bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Engine = EngineConfig{
		PeriodsPerDay:        v.GetInt("ENGINE_PERIODS_PER_DAY"),
		DaysPerWeek:          v.GetInt("ENGINE_DAYS_PER_WEEK"),
		PeriodDuration:       parseDuration(v.GetString("ENGINE_PERIOD_DURATION"), 45*time.Minute),
		DayStart:             v.GetString("ENGINE_DAY_START"),
		FeasibilityThreshold: v.GetFloat64("ENGINE_FEASIBILITY_THRESHOLD"),
		PopulationSize:       v.GetInt("ENGINE_POPULATION_SIZE"),
		CSP: CSPConfig{
			TimeBudget:   parseDuration(v.GetString("CSP_TIME_BUDGET"), 30*time.Second),
			MaxSolutions: v.GetInt("CSP_MAX_SOLUTIONS"),
		},
		GA: GAConfig{
			Generations:        v.GetInt("GA_GENERATIONS"),
			StallWindow:        v.GetInt("GA_STALL_WINDOW"),
			EliteCount:         v.GetInt("GA_ELITE_COUNT"),
			MutationRate:       v.GetFloat64("GA_MUTATION_RATE"),
			DiversityThreshold: v.GetFloat64("GA_DIVERSITY_THRESHOLD"),
		},
		SA: SAConfig{
			InitialTemperature: v.GetFloat64("SA_INITIAL_TEMPERATURE"),
			CoolingRate:        v.GetFloat64("SA_COOLING_RATE"),
			MinTemperature:     v.GetFloat64("SA_MIN_TEMPERATURE"),
			MaxIterations:      v.GetInt("SA_MAX_ITERATIONS"),
		},
		Tabu: TabuConfig{
			Tenure:           v.GetInt("TABU_TENURE"),
			NeighborhoodSize: v.GetInt("TABU_NEIGHBORHOOD_SIZE"),
			MaxIterations:    v.GetInt("TABU_MAX_ITERATIONS"),
		},
		Validator: ValidatorConfig{
			CacheSize:    v.GetInt("VALIDATOR_CACHE_SIZE"),
			Alternatives: v.GetInt("VALIDATOR_ALTERNATIVES"),
		},
		Weights: WeightsConfig{
			RenormalizeMissing: v.GetBool("WEIGHTS_RENORMALIZE_MISSING"),
		},
		SessionTTL: parseDuration(v.GetString("SESSION_TTL"), 30*time.Minute),
		Workers:    v.GetInt("ENGINE_WORKERS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENGINE_PERIODS_PER_DAY", 8)
	v.SetDefault("ENGINE_DAYS_PER_WEEK", 5)
	v.SetDefault("ENGINE_PERIOD_DURATION", "45m")
	v.SetDefault("ENGINE_DAY_START", "07:30")
	v.SetDefault("ENGINE_FEASIBILITY_THRESHOLD", 30.0)
	v.SetDefault("ENGINE_POPULATION_SIZE", 20)
	v.SetDefault("ENGINE_WORKERS", 2)

	v.SetDefault("CSP_TIME_BUDGET", "30s")
	v.SetDefault("CSP_MAX_SOLUTIONS", 5)

	v.SetDefault("GA_GENERATIONS", 100)
	v.SetDefault("GA_STALL_WINDOW", 20)
	v.SetDefault("GA_ELITE_COUNT", 5)
	v.SetDefault("GA_MUTATION_RATE", 0.05)
	v.SetDefault("GA_DIVERSITY_THRESHOLD", 0.15)

	v.SetDefault("SA_INITIAL_TEMPERATURE", 100.0)
	v.SetDefault("SA_COOLING_RATE", 0.95)
	v.SetDefault("SA_MIN_TEMPERATURE", 0.01)
	v.SetDefault("SA_MAX_ITERATIONS", 5000)

	v.SetDefault("TABU_TENURE", 10)
	v.SetDefault("TABU_NEIGHBORHOOD_SIZE", 30)
	v.SetDefault("TABU_MAX_ITERATIONS", 1000)

	v.SetDefault("VALIDATOR_CACHE_SIZE", 4096)
	v.SetDefault("VALIDATOR_ALTERNATIVES", 3)

	v.SetDefault("WEIGHTS_RENORMALIZE_MISSING", false)
	v.SetDefault("SESSION_TTL", "30m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}
