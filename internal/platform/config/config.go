package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Server captures process-level configuration so main stays lean. Nothing in
// here is mutated after startup; rules are handed to validators and the
// recorder at construction time.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	JWTSigningKey string

	Payments Rules
	Lock     LockSettings
	Audit    AuditSettings
}

// Rules bound what a single payment may look like and how long idempotency
// keys are honored.
type Rules struct {
	MinAmount            decimal.Decimal
	MaxAmount            decimal.Decimal
	AmountUnit           decimal.Decimal
	IdempotencyRetention time.Duration
}

// LockSettings control per-student lock acquisition.
type LockSettings struct {
	Attempts       int
	PerAttemptWait time.Duration
	BackoffStep    time.Duration
	TTL            time.Duration
}

// AuditSettings configure the optional async audit publisher.
type AuditSettings struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("DUES_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("AUDIT_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	topic := os.Getenv("AUDIT_KAFKA_TOPIC")
	if topic == "" {
		topic = "dues.audit"
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSigningKey: jwtSigningKey,
		Payments: Rules{
			MinAmount:            envDecimal("PAYMENT_MIN_AMOUNT", "5"),
			MaxAmount:            envDecimal("PAYMENT_MAX_AMOUNT", "10000"),
			AmountUnit:           envDecimal("PAYMENT_AMOUNT_UNIT", "5"),
			IdempotencyRetention: envDuration("IDEMPOTENCY_RETENTION", 24*time.Hour),
		},
		Lock: LockSettings{
			Attempts:       envInt("LOCK_ATTEMPTS", 3),
			PerAttemptWait: envDuration("LOCK_ATTEMPT_WAIT", 2*time.Second),
			BackoffStep:    envDuration("LOCK_BACKOFF_STEP", 150*time.Millisecond),
			TTL:            envDuration("LOCK_TTL", 10*time.Second),
		},
		Audit: AuditSettings{
			KafkaBrokers: brokers,
			KafkaTopic:   topic,
		},
	}
}

// DefaultRules are the documented payment bounds; tests use these unless they
// pin their own.
func DefaultRules() Rules {
	return Rules{
		MinAmount:            decimal.NewFromInt(5),
		MaxAmount:            decimal.NewFromInt(10000),
		AmountUnit:           decimal.NewFromInt(5),
		IdempotencyRetention: 24 * time.Hour,
	}
}

// DefaultLockSettings keep tests fast while matching production shape.
func DefaultLockSettings() LockSettings {
	return LockSettings{
		Attempts:       3,
		PerAttemptWait: 2 * time.Second,
		BackoffStep:    150 * time.Millisecond,
		TTL:            10 * time.Second,
	}
}

func envDecimal(key, fallback string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return fallback
}
