// Package logging assembles structured slog loggers and formatting helpers used
// across idmark.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so phase code automatically
// tags log lines with run IDs, item IDs, and phase names. Runs tee every
// record into a JSON log file under the configured log directory so a batch
// can be inspected after the console has scrolled away. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
