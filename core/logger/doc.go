// Package logger provides structured logging built on Go's standard
// slog package: a factory with environment presets and a set of
// nil-safe attribute helpers for the certificate lifecycle domain.
//
// # Basic Usage
//
// Create loggers using the factory function:
//
//	log := logger.New(
//		logger.WithProduction("myapp"),
//	)
//
//	log.Info("certificate installed",
//		logger.Component("certman"),
//		logger.Domains(cfg.Domains),
//	)
//
// Attribute helpers return an empty Attr for zero values, so they can
// be used without nil checks:
//
//	log.Error("issuance failed", logger.Error(err))
package logger
