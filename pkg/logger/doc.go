// Package logger builds configured slog.Logger instances for the pipeline.
//
// Everything in this module takes an explicit *slog.Logger; there is no
// hidden global lookup inside core logic. This package is the one place where
// loggers get constructed.
//
//	log := logger.New(
//		logger.WithJSONFormat(),
//		logger.WithLevel(slog.LevelInfo),
//		logger.WithAttr(slog.String("service", "uploadguard")),
//	)
package logger
