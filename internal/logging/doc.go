// Package logging provides structured logging for codetective built on Zap.
//
// The logger is context-aware: trace correlation from OpenTelemetry spans and
// the current run id are attached to every entry automatically. Output goes
// to stdout (json or console) and optionally to an OTEL log bridge when
// telemetry is enabled.
//
// Because codetective handles scanner findings that may quote credentials,
// the stdout encoder redacts sensitive field names and value patterns before
// anything is written.
package logging
