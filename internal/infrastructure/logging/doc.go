// Package logging provides structured logging for cuebox.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same default fields and level filter.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	queue := automation.NewQueue(automation.QueueConfig{Logger: logger.Component("queue")})
//	logger.Plugin("clock").Debug("tick", "hour", 22)
//
// Never log secrets, tokens, or passwords.
package logging
