// Package logging builds the process slog.Logger from the log section of the
// configuration. File output is rotated with lumberjack.
package logging
