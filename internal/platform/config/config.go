package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config captures everything cmd/server needs to wire the service. Values come
// from the environment so main stays lean.
type Config struct {
	Addr        string
	PostgresDSN string
	Redis       Redis
	Kafka       Kafka
	Compliance  Compliance
	Report      Report
	Auth        Auth
	TxTimeout   time.Duration
}

// Redis configures the balance summary cache. An empty URL disables caching.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the compliance audit sink. Empty seeds disable Kafka fanout;
// events still persist to the audit store.
type Kafka struct {
	Seeds []string
	Topic string
}

// Compliance holds scoring weights and status thresholds. Weights must sum to
// 1.0 and thresholds must be monotonic; Validate enforces both at startup so a
// misconfigured scorer never produces a court report.
type Compliance struct {
	ScheduleWeight      float64
	CommunicationWeight float64
	FinancialWeight     float64
	ItemWeight          float64

	GreenThreshold float64
	AmberThreshold float64

	OverdueWeight  float64 // score points deducted per overdue obligation
	DisputedWeight float64 // score points deducted per disputed item
	FlaggedWeight  float64 // score points deducted per flagged message
	NeutralScore   float64 // category score when the window has no observations
	WindowDays     int
}

// Report configures report numbering and expiry.
type Report struct {
	NumberPrefix string
	TTL          time.Duration
}

// Auth configures bearer token verification. An empty secret disables token
// verification; handlers then rely on request bodies for party identity.
type Auth struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// Validate checks the compliance configuration invariants.
func (c Compliance) Validate() error {
	sum := c.ScheduleWeight + c.CommunicationWeight + c.FinancialWeight + c.ItemWeight
	if diff := sum - 1.0; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("compliance weights must sum to 1.0, got %v", sum)
	}
	if c.GreenThreshold <= c.AmberThreshold {
		return fmt.Errorf("green threshold (%v) must exceed amber threshold (%v)", c.GreenThreshold, c.AmberThreshold)
	}
	if c.NeutralScore < 0 || c.NeutralScore > 100 {
		return fmt.Errorf("neutral score must be within [0,100], got %v", c.NeutralScore)
	}
	if c.WindowDays <= 0 {
		return fmt.Errorf("window days must be positive, got %d", c.WindowDays)
	}
	return nil
}

// FromEnv builds a Config from environment variables with development
// defaults. Call Compliance.Validate before serving.
func FromEnv() Config {
	return Config{
		Addr:        envString("CLEARFUND_ADDR", ":8080"),
		PostgresDSN: envString("CLEARFUND_POSTGRES_DSN", ""),
		Redis: Redis{
			URL:          envString("CLEARFUND_REDIS_URL", ""),
			PoolSize:     envInt("CLEARFUND_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CLEARFUND_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CLEARFUND_REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  envDuration("CLEARFUND_REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: envDuration("CLEARFUND_REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Kafka: Kafka{
			Seeds: splitNonEmpty(os.Getenv("CLEARFUND_KAFKA_SEEDS")),
			Topic: envString("CLEARFUND_KAFKA_AUDIT_TOPIC", "clearfund.audit.compliance"),
		},
		Compliance: Compliance{
			ScheduleWeight:      envFloat("CLEARFUND_WEIGHT_SCHEDULE", 0.25),
			CommunicationWeight: envFloat("CLEARFUND_WEIGHT_COMMUNICATION", 0.25),
			FinancialWeight:     envFloat("CLEARFUND_WEIGHT_FINANCIAL", 0.25),
			ItemWeight:          envFloat("CLEARFUND_WEIGHT_ITEM", 0.25),
			GreenThreshold:      envFloat("CLEARFUND_THRESHOLD_GREEN", 85),
			AmberThreshold:      envFloat("CLEARFUND_THRESHOLD_AMBER", 70),
			OverdueWeight:       envFloat("CLEARFUND_PENALTY_OVERDUE", 10),
			DisputedWeight:      envFloat("CLEARFUND_PENALTY_DISPUTED", 5),
			FlaggedWeight:       envFloat("CLEARFUND_PENALTY_FLAGGED", 5),
			NeutralScore:        envFloat("CLEARFUND_NEUTRAL_SCORE", 100),
			WindowDays:          envInt("CLEARFUND_SNAPSHOT_WINDOW_DAYS", 30),
		},
		Report: Report{
			NumberPrefix: envString("CLEARFUND_REPORT_PREFIX", "CF"),
			TTL:          envDuration("CLEARFUND_REPORT_TTL", 90*24*time.Hour),
		},
		Auth: Auth{
			JWTSecret: envString("CLEARFUND_JWT_SECRET", ""),
			Issuer:    envString("CLEARFUND_JWT_ISSUER", "clearfund"),
			Audience:  envString("CLEARFUND_JWT_AUDIENCE", "clearfund-api"),
		},
		TxTimeout: envDuration("CLEARFUND_TX_TIMEOUT", 5*time.Second),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
