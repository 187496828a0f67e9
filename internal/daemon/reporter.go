package daemon

import (
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/matheus3301/minichat/internal/llm"
	"go.uber.org/zap"
)

// Reporter forwards unexpected failures to Sentry when a DSN is configured
// and is a no-op otherwise.
type Reporter struct {
	enabled bool
	logger  *zap.Logger
}

// NewReporter initialises Sentry for dsn. An empty dsn disables reporting.
func NewReporter(dsn, session string, logger *zap.Logger) *Reporter {
	r := &Reporter{logger: logger}
	if dsn == "" {
		return r
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "minichatd",
		AttachStacktrace: true,
		ServerName:       session,
	})
	if err != nil {
		logger.Warn("sentry initialization failed", zap.Error(err))
		return r
	}
	logger.Info("sentry initialized")
	r.enabled = true
	return r
}

// Capture reports err. Cancellations are user actions and are never sent.
func (r *Reporter) Capture(err error) {
	if !r.enabled || err == nil || errors.Is(err, llm.ErrCancelled) {
		return
	}
	sentry.CaptureException(err)
}

// Flush waits briefly for queued events to be delivered.
func (r *Reporter) Flush() {
	if r.enabled {
		sentry.Flush(2 * time.Second)
	}
}
