/*
Package log provides structured logging for Burrow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initialize once at process start, then log through the global helpers or a
component-scoped child logger:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.Info("server started")

	logger := log.WithComponent("session")
	logger.Warn().Str("peer", id).Msg("handshake timed out")

Console output (JSONOutput: false) renders human-readable lines for
interactive use; JSON output is intended for collection pipelines.

Every core subsystem logs through the global logger; none of them require
Init to have been called, a default stdout logger is installed at package
load.
*/
package log
