// Package logging provides structured logging for panelsync.
//
// It wraps log/slog so that every component logs with the same default
// fields (service, version) and the same level handling.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	syncLog := logger.Component("sync")
//	syncLog.Info("config written", "panel", id, "sections", n)
//
// Never log broker passwords or JWT secrets.
package logging
