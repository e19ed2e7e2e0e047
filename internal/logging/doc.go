// Package logging provides structured logging utilities for kdebug.
//
// This package centralizes logging patterns to ensure consistent, structured
// logging throughout the codebase using the standard library's slog package.
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(logging.New(false), "resolve")
//	logger.Info("resolved target",
//	    logging.Namespace("default"),
//	    logging.Pod("aggregator-0"))
//
// Attribute helpers keep key names consistent so log lines stay greppable
// across packages.
package logging
