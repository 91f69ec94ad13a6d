// Package logging provides structured logging for the NVR state service.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes. Components receive a child logger carrying a
// "component" attribute:
//
//	logger := logging.New(cfg.Logging, version)
//	client := protect.New(cfg, protect.WithLogger(logger.With("component", "protect")))
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log NVR passwords, session tokens or CSRF values.
package logging
