// Package logging builds the slog loggers used across capture.
//
// It owns level parsing, the console and JSON handlers, and a small set of
// attribute helpers and field names so the orchestrator, exporter and staging
// store emit log lines with the same shape. Tests and wiring code that cannot
// fail use NewNop.
package logging
