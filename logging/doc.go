// Package logging provides a minimal logging interface and adapters for chatstream.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the scheduler, registry, merge engine and aggregator use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ChatLogger with conversation/lane context and domain helpers
//   - ZapAdapter for hosts standardised on go.uber.org/zap
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	agg := aggregator.New(func(o *aggregator.Options) { o.Logger = logger })
package logging
