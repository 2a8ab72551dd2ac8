// Package reporting sends unexpected errors to Sentry.
// Every function is a no-op until Init is called with a DSN.
package reporting

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

var enabled atomic.Bool

// Options configures error reporting
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Init initializes Sentry. An empty DSN leaves reporting disabled.
func Init(opts Options) error {
	if opts.DSN == "" {
		logrus.Info("Sentry disabled: SENTRY_DSN not set")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		EnableTracing:    false,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	enabled.Store(true)
	logrus.WithField("environment", opts.Environment).Info("Sentry initialized")
	return nil
}

// Enabled reports whether errors are being sent
func Enabled() bool {
	return enabled.Load()
}

// CaptureError reports err with the given tags
func CaptureError(err error, tags map[string]string) {
	if err == nil || !enabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value
func CapturePanic(recovered interface{}, tags map[string]string) {
	if recovered == nil || !enabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelFatal)
		sentry.CurrentHub().Recover(recovered)
	})
}

// Flush waits for buffered events to be sent
func Flush(timeout time.Duration) {
	if !enabled.Load() {
		return
	}
	if !sentry.Flush(timeout) {
		logrus.Warn("Sentry flush timed out")
	}
}
