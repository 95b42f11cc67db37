// Package types defines the shared market-data types passed between the
// provider adapters, the monitoring loop and the alert engine.
package types
