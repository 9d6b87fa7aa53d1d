package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"kyc-intake/internal/audit"
	jwttoken "kyc-intake/internal/jwt_token"
	"kyc-intake/internal/kyc/handler"
	kycmetrics "kyc-intake/internal/kyc/metrics"
	"kyc-intake/internal/kyc/models"
	"kyc-intake/internal/kyc/service"
	"kyc-intake/internal/platform/config"
	"kyc-intake/internal/platform/httpserver"
	"kyc-intake/internal/platform/logger"
	"kyc-intake/internal/platform/metrics"
	"kyc-intake/internal/ratelimit"
	"kyc-intake/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	kycMetrics := kycmetrics.New()
	httpMetrics := metrics.New()

	sessions, sweeper := buildSessionStore(cfg, infra)
	verifier := buildVerifier(cfg, infra, kycMetrics, log)
	sink, err := buildSink(ctx, cfg, infra, log)
	if err != nil {
		return err
	}
	auditStore, err := buildAuditStore(ctx, infra)
	if err != nil {
		return err
	}
	publisher := audit.NewPublisher(auditStore,
		audit.WithLogger(log),
		audit.WithBuffer(1024),
		audit.WithDrainTimeout(cfg.Server.ShutdownGrace),
	)

	svc := service.New(sessions, verifier, sink,
		service.WithLogger(log),
		service.WithMetrics(kycMetrics),
		service.WithAuditPublisher(publisher),
		service.WithMaxUploadBytes(cfg.Submission.MaxUploadBytes),
		service.WithSubmissionPolicy(models.SubmissionPolicy{
			RequireDeclaration: cfg.Submission.RequireDeclaration,
			RequireVerifiedGST: cfg.Submission.RequireVerifiedGST,
		}),
	)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience,
		jwttoken.WithLeeway(cfg.Server.JWTLeeway))

	r := chi.NewRouter()
	r.Get("/health", healthHandler(infra))
	r.Handle("/metrics", promhttp.Handler())
	var handlerOpts []handler.Option
	if cfg.GST.VerifyRateLimit > 0 {
		handlerOpts = append(handlerOpts, handler.WithVerifyLimiter(ratelimit.Middleware(
			buildRateLimitStore(infra), "gst_verify", cfg.GST.VerifyRateLimit, cfg.GST.VerifyRateWindow, log)))
	}
	handler.New(svc, log, httpMetrics, jwttoken.NewJWTServiceAdapter(jwtService), handlerOpts...).Register(r)

	srv := httpserver.New(cfg.Server.Addr, r)

	log.InfoContext(ctx, "starting kyc-intake",
		"addr", cfg.Server.Addr,
		"gst_verifier", cfg.GST.Verifier,
		"sink", sink.Name(),
		"require_declaration", cfg.Submission.RequireDeclaration,
		"require_verified_gst", cfg.Submission.RequireVerifiedGST,
	)

	var workers []func(context.Context) error
	if sweeper != nil {
		workers = append(workers, func(ctx context.Context) error {
			return sweepSessions(ctx, sweeper, time.Minute, log)
		})
	}
	return runUntilShutdown(ctx,
		func(ctx context.Context) error {
			return httpserver.Run(ctx, srv, cfg.Server.ShutdownGrace, log)
		},
		publisher.Run,
		workers...,
	)
}

// runUntilShutdown runs the HTTP server, the audit publisher and any
// background workers until ctx ends or one of them fails. The publisher is
// stopped only after the server has finished its shutdown grace, so audit
// events from requests completing during the grace are still persisted.
func runUntilShutdown(
	ctx context.Context,
	serveHTTP func(context.Context) error,
	publish func(context.Context) error,
	workers ...func(context.Context) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	publishCtx, stopPublisher := context.WithCancel(context.WithoutCancel(ctx))
	g.Go(func() error {
		defer stopPublisher()
		return serveHTTP(gctx)
	})
	g.Go(func() error {
		return publish(publishCtx)
	})
	for _, w := range workers {
		g.Go(func() error {
			return w(gctx)
		})
	}
	return g.Wait()
}

func healthHandler(infra *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := infra.Health(ctx); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type sessionSweeper interface {
	Sweep(ctx context.Context) int
}

func sweepSessions(ctx context.Context, s sessionSweeper, every time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				log.DebugContext(ctx, "expired sessions swept", "count", n)
			}
		}
	}
}
