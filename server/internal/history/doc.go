// Package history keeps the audit log of fired alert events. It offers an
// in-memory store bounded by entry count, a Postgres store for deployments
// that need durable history, and a cron-driven pruner that enforces the
// retention window on either.
package history
