/*
Package log provides structured logging for slurmlet using zerolog.

It wraps zerolog with a global Logger, a Config for level/format/output
selection, and WithComponent/WithJobID helpers for attaching context to
a child logger without threading fields through every call site.

Initialize once at startup:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Int64("job_id", job.ID).Msg("admitted job")

JSON output is for production/log aggregation; console output (the
default) is for interactive use of the CLI and daemon.
*/
package log
