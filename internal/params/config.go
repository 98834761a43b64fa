package params

import (
	"fmt"
	"os"
	"strconv"

	"barmatch/internal/gfob"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type Backtest struct {
	InitialCapital decimal.Decimal
	// PositionSize is the cash amount frozen by each buy.
	PositionSize decimal.Decimal
	Workers      int
}

type GFOB struct {
	DeltaIn      decimal.Decimal
	DeltaOut     decimal.Decimal
	DeltaOutFast decimal.Decimal
}

type Config struct {
	Backtest Backtest
	GFOB     GFOB
	LogLevel zerolog.Level
}

func Default() Config {
	g := gfob.DefaultConfig()
	return Config{
		Backtest: Backtest{
			InitialCapital: decimal.NewFromInt(10000),
			PositionSize:   g.PositionSize,
			Workers:        4,
		},
		GFOB: GFOB{
			DeltaIn:      g.DeltaIn,
			DeltaOut:     g.DeltaOut,
			DeltaOutFast: g.DeltaOutFast,
		},
		LogLevel: zerolog.InfoLevel,
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Missing .env files are fine.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	decimals := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"BACKTEST_INITIAL_CAPITAL", &cfg.Backtest.InitialCapital},
		{"BACKTEST_POSITION_SIZE", &cfg.Backtest.PositionSize},
		{"GFOB_DELTA_IN", &cfg.GFOB.DeltaIn},
		{"GFOB_DELTA_OUT", &cfg.GFOB.DeltaOut},
		{"GFOB_DELTA_OUT_FAST", &cfg.GFOB.DeltaOutFast},
	}
	for _, d := range decimals {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return cfg, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if workers := os.Getenv("BACKTEST_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return cfg, fmt.Errorf("parse BACKTEST_WORKERS: %w", err)
		}
		cfg.Backtest.Workers = n
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return cfg, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = parsed
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if !c.Backtest.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive: %s", c.Backtest.InitialCapital)
	}
	if !c.Backtest.PositionSize.IsPositive() {
		return fmt.Errorf("position size must be positive: %s", c.Backtest.PositionSize)
	}
	if c.Backtest.Workers < 1 {
		return fmt.Errorf("workers must be at least 1: %d", c.Backtest.Workers)
	}
	one := decimal.NewFromInt(1)
	for name, d := range map[string]decimal.Decimal{
		"delta in":       c.GFOB.DeltaIn,
		"delta out":      c.GFOB.DeltaOut,
		"delta out fast": c.GFOB.DeltaOutFast,
	} {
		if d.IsNegative() || d.GreaterThanOrEqual(one) {
			return fmt.Errorf("%s must be in [0, 1): %s", name, d)
		}
	}
	return nil
}

// Manager returns the GFOB manager settings.
func (c Config) Manager() gfob.Config {
	return gfob.Config{
		DeltaIn:      c.GFOB.DeltaIn,
		DeltaOut:     c.GFOB.DeltaOut,
		DeltaOutFast: c.GFOB.DeltaOutFast,
		PositionSize: c.Backtest.PositionSize,
	}
}
