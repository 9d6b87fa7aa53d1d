package gst

import (
	"context"
	"log/slog"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/circuit"
)

// BreakerVerifier sheds a failing registry. Rejections count as successful
// calls: the registry answered. Failures while the breaker is closed are
// returned to the caller; only an open breaker hands the number to the
// fallback, whose result is marked as such. Authentication failures never
// trip the breaker, so a bad API key cannot turn into fallback answers.
type BreakerVerifier struct {
	primary  Verifier
	fallback Verifier
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type BreakerOption func(*BreakerVerifier)

func WithFallback(v Verifier) BreakerOption {
	return func(b *BreakerVerifier) {
		b.fallback = v
	}
}

func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *BreakerVerifier) {
		b.logger = logger
	}
}

func NewBreakerVerifier(primary Verifier, breaker *circuit.Breaker, opts ...BreakerOption) *BreakerVerifier {
	b := &BreakerVerifier{primary: primary, breaker: breaker}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BreakerVerifier) Verify(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	if !b.breaker.Allow() {
		return b.useFallback(ctx, gstNumber)
	}

	res, err := b.primary.Verify(ctx, gstNumber)
	if err == nil {
		b.recordSuccess(ctx)
		return res, nil
	}
	if _, ok := AsRejection(err); ok {
		b.recordSuccess(ctx)
		return nil, err
	}

	if GetCategory(err) == ErrorAuthentication {
		if b.logger != nil {
			b.logger.ErrorContext(ctx, "gst registry rejected credentials",
				"breaker", b.breaker.Name(),
			)
		}
		return nil, err
	}

	_, change := b.breaker.RecordFailure()
	if change.Opened && b.logger != nil {
		b.logger.WarnContext(ctx, "gst registry circuit opened",
			"breaker", b.breaker.Name(),
			"category", string(GetCategory(err)),
		)
	}
	return nil, err
}

func (b *BreakerVerifier) recordSuccess(ctx context.Context) {
	_, change := b.breaker.RecordSuccess()
	if change.Closed && b.logger != nil {
		b.logger.InfoContext(ctx, "gst registry circuit closed", "breaker", b.breaker.Name())
	}
}

func (b *BreakerVerifier) useFallback(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	if b.fallback == nil {
		return nil, ErrCircuitOpen
	}
	res, err := b.fallback.Verify(ctx, gstNumber)
	if err != nil {
		return nil, err
	}
	res.Source = models.GSTSourceFormatFallback
	return res, nil
}
