package observability

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry enables error reporting when a DSN is configured
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return err
	}
	sentryEnabled = true
	return nil
}

// FlushSentry waits for buffered events to be delivered
func FlushSentry() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}

// CaptureError reports a recovered failure with session tags
func CaptureError(err error, tags map[string]string) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// RecoveryMiddleware turns handler panics into 500s and reports them
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := GetLogger()
				logger.Error().
					Interface("panic", rec).
					Str("path", req.URL.Path).
					Msg("Handler panic recovered")
				if sentryEnabled {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(req)
					hub.RecoverWithContext(req.Context(), rec)
					hub.Flush(2 * time.Second)
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}
