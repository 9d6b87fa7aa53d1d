package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	dErrors "kyc-intake/pkg/domain-errors"
	"kyc-intake/pkg/platform/httputil"
	"kyc-intake/pkg/requestcontext"
)

// Middleware limits each authenticated user to limit requests per window on
// the wrapped routes. Store failures let the request through.
func Middleware(store Store, scope string, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller := requestcontext.UserID(ctx)
			if caller == "" {
				caller = requestcontext.ClientIP(ctx)
			}

			res, err := store.Allow(ctx, scope+":"+caller, limit, window)
			if err != nil {
				logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
					"scope", scope,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				retryAfter := max(int(time.Until(res.ResetAt).Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				logger.InfoContext(ctx, "rate limit exceeded",
					"scope", scope,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, please try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
