package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/twmb/franz-go/pkg/kgo"

	"kyc-intake/internal/audit"
	"kyc-intake/internal/kyc/gst"
	kycmetrics "kyc-intake/internal/kyc/metrics"
	"kyc-intake/internal/kyc/service"
	"kyc-intake/internal/kyc/sink"
	"kyc-intake/internal/kyc/store"
	"kyc-intake/internal/platform/config"
	"kyc-intake/internal/platform/kafka"
	"kyc-intake/internal/platform/postgres"
	"kyc-intake/internal/platform/redis"
	"kyc-intake/internal/ratelimit"
	"kyc-intake/pkg/platform/circuit"
)

// infra holds the optional backing services. Any of them may be nil.
type infra struct {
	redis *redis.Client
	db    *sql.DB
	kafka *kgo.Client
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{}
	var err error

	in.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	in.db, err = postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		in.Close()
		return nil, err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		in.kafka, err = kafka.NewProducer(ctx, cfg.Kafka)
		if err != nil {
			in.Close()
			return nil, err
		}
	}

	log.InfoContext(ctx, "backing services",
		"redis", in.redis != nil,
		"postgres", in.db != nil,
		"kafka", in.kafka != nil,
	)
	return in, nil
}

func (in *infra) Health(ctx context.Context) error {
	var errs []error
	if in.redis != nil {
		if err := in.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if in.db != nil {
		if err := in.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if in.kafka != nil {
		if err := in.kafka.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}

// buildRateLimitStore shares the window across replicas when redis is up.
func buildRateLimitStore(in *infra) ratelimit.Store {
	if in.redis != nil {
		return ratelimit.NewRedisStore(in.redis.Client)
	}
	return ratelimit.NewInMemoryStore()
}

// buildSessionStore prefers redis. The in-memory store needs a sweeper.
func buildSessionStore(cfg config.Config, in *infra) (service.SessionStore, sessionSweeper) {
	if in.redis != nil {
		return store.NewRedisSessionStore(in.redis.Client, cfg.Server.SessionTTL), nil
	}
	mem := store.NewInMemorySessionStore(cfg.Server.SessionTTL)
	return mem, mem
}

func buildVerifier(cfg config.Config, in *infra, m *kycmetrics.Metrics, log *slog.Logger) service.Verifier {
	format := gst.NewFormatVerifier()
	if cfg.GST.Verifier != "registry" {
		return format
	}

	registry := gst.NewRegistryVerifier("gst-registry", cfg.GST.RegistryURL, cfg.GST.RegistryAPIKey, cfg.GST.RegistryTimeout)
	guarded := gst.NewBreakerVerifier(registry, circuit.New(registry.ID()),
		gst.WithFallback(format),
		gst.WithBreakerLogger(log),
	)

	var cache gst.Cache = gst.NewMemoryCache()
	if in.redis != nil {
		cache = gst.NewRedisCache(in.redis.Client)
	}
	return gst.NewCachedVerifier(guarded, cache, cfg.GST.CacheTTL, m, gst.WithCacheLogger(log))
}

func buildSink(ctx context.Context, cfg config.Config, in *infra, log *slog.Logger) (service.Sink, error) {
	sinks := make([]sink.Sink, 0, len(cfg.Submission.Sinks))
	for _, name := range cfg.Submission.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, sink.NewLogSink(log))
		case "http":
			sinks = append(sinks, sink.NewHTTPSink(cfg.Submission.SinkURL, cfg.Submission.SinkToken, 30*time.Second))
		case "kafka":
			if err := kafka.EnsureTopic(ctx, in.kafka, cfg.Kafka.SubmissionTopic, 3, 1); err != nil {
				return nil, err
			}
			sinks = append(sinks, sink.NewKafkaSink(in.kafka, cfg.Kafka.SubmissionTopic))
		case "postgres":
			pg := sink.NewPostgresSink(in.db)
			if err := postgres.Migrate(ctx, pg); err != nil {
				return nil, err
			}
			sinks = append(sinks, pg)
		case "sns":
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			sinks = append(sinks, sink.NewSNSSink(sns.NewFromConfig(awsCfg), cfg.AWS.SNSTopicARN))
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sink.NewMultiSink(sinks...), nil
}

func buildAuditStore(ctx context.Context, in *infra) (audit.Store, error) {
	if in.db == nil {
		return audit.NewInMemoryStore(), nil
	}
	pg := audit.NewPostgresStore(in.db)
	if err := postgres.Migrate(ctx, pg); err != nil {
		return nil, err
	}
	return pg, nil
}
