package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Server     Server
	Log        Log
	Submission Submission
	GST        GST
	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	AWS        AWSConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	JWTLeeway     time.Duration
	SessionTTL    time.Duration
	ShutdownGrace time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Submission controls upload limits, gating, and where forms go.
type Submission struct {
	MaxUploadBytes     int64
	RequireDeclaration bool
	RequireVerifiedGST bool
	// Sinks is one or more of log, http, kafka, postgres, sns.
	Sinks     []string
	SinkURL   string
	SinkToken string
}

type GST struct {
	// Verifier is format or registry.
	Verifier        string
	RegistryURL     string
	RegistryAPIKey  string
	RegistryTimeout time.Duration
	CacheTTL        time.Duration
	// VerifyRateLimit caps verify calls per user per VerifyRateWindow.
	// Zero disables the limit.
	VerifyRateLimit  int
	VerifyRateWindow time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

type KafkaConfig struct {
	Brokers         []string
	SubmissionTopic string
}

type AWSConfig struct {
	Region      string
	SNSTopicARN string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	r := &envReader{}
	cfg := Config{
		Server: Server{
			Addr:          r.str("KYC_ADDR", ":8080"),
			JWTSigningKey: r.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     r.str("JWT_ISSUER", "kyc-intake"),
			JWTAudience:   r.str("JWT_AUDIENCE", "kyc-intake"),
			JWTLeeway:     r.duration("JWT_LEEWAY", 30*time.Second),
			SessionTTL:    r.duration("KYC_SESSION_TTL", 2*time.Hour),
			ShutdownGrace: r.duration("KYC_SHUTDOWN_GRACE", 15*time.Second),
		},
		Log: Log{
			Level:  r.str("LOG_LEVEL", "info"),
			Format: r.str("LOG_FORMAT", "json"),
		},
		Submission: Submission{
			MaxUploadBytes:     r.int64("KYC_MAX_UPLOAD_BYTES", 5<<20),
			RequireDeclaration: r.bool("KYC_REQUIRE_DECLARATION", false),
			RequireVerifiedGST: r.bool("KYC_REQUIRE_VERIFIED_GST", false),
			Sinks:              r.list("KYC_SINK", []string{"log"}),
			SinkURL:            r.str("KYC_SINK_URL", ""),
			SinkToken:          r.str("KYC_SINK_TOKEN", ""),
		},
		GST: GST{
			Verifier:         r.str("GST_VERIFIER", "format"),
			RegistryURL:      r.str("GST_REGISTRY_URL", ""),
			RegistryAPIKey:   r.str("GST_REGISTRY_API_KEY", ""),
			RegistryTimeout:  r.duration("GST_REGISTRY_TIMEOUT", 5*time.Second),
			CacheTTL:         r.duration("GST_CACHE_TTL", time.Hour),
			VerifyRateLimit:  int(r.int64("GST_VERIFY_RATE_LIMIT", 20)),
			VerifyRateWindow: r.duration("GST_VERIFY_RATE_WINDOW", time.Minute),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     int(r.int64("REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(r.int64("REDIS_MIN_IDLE_CONNS", 2)),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          r.str("DATABASE_URL", ""),
			MaxOpenConns: int(r.int64("DATABASE_MAX_OPEN_CONNS", 10)),
			MaxIdleConns: int(r.int64("DATABASE_MAX_IDLE_CONNS", 5)),
		},
		Kafka: KafkaConfig{
			Brokers:         r.list("KAFKA_BROKERS", nil),
			SubmissionTopic: r.str("KAFKA_SUBMISSION_TOPIC", "kyc.submissions"),
		},
		AWS: AWSConfig{
			Region:      r.str("AWS_REGION", "ap-south-1"),
			SNSTopicARN: r.str("SNS_TOPIC_ARN", ""),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.GST.Verifier {
	case "format":
	case "registry":
		if c.GST.RegistryURL == "" {
			return fmt.Errorf("GST_REGISTRY_URL is required when GST_VERIFIER=registry")
		}
	default:
		return fmt.Errorf("GST_VERIFIER must be format or registry, got %q", c.GST.Verifier)
	}
	if len(c.Submission.Sinks) == 0 {
		return fmt.Errorf("KYC_SINK must name at least one sink")
	}
	for _, sink := range c.Submission.Sinks {
		switch sink {
		case "log":
		case "http":
			if c.Submission.SinkURL == "" {
				return fmt.Errorf("KYC_SINK_URL is required for the http sink")
			}
		case "kafka":
			if len(c.Kafka.Brokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is required for the kafka sink")
			}
		case "postgres":
			if c.Postgres.URL == "" {
				return fmt.Errorf("DATABASE_URL is required for the postgres sink")
			}
		case "sns":
			if c.AWS.SNSTopicARN == "" {
				return fmt.Errorf("SNS_TOPIC_ARN is required for the sns sink")
			}
		default:
			return fmt.Errorf("unknown sink %q", sink)
		}
	}
	return nil
}

// envReader collects the first parse error so FromEnv reads top to bottom.
type envReader struct {
	err error
}

func (r *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (r *envReader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *envReader) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *envReader) list(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
