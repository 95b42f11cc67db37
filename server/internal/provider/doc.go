// Package provider fetches market snapshots from upstream data sources.
//
// Two source types are supported:
//
//   - http: a JSON object of numeric fields, optionally with a "timestamp"
//     key (RFC 3339 string or Unix seconds).
//   - prometheus: a text exposition endpoint whose gauges carry the fields.
//
// Both share one HTTP client with apikey, bearer or basic authentication.
package provider
