// Package config loads the service configuration from a YAML file.
//
// Sections:
//   - server   : HTTP port and REST API authentication
//   - monitor  : evaluation interval and per-notifier timeout
//   - provider : market-data source (http | prometheus | none)
//   - rules    : rules file, hot reload and stock templates
//   - history  : alert history backend, retention and pruning schedule
//   - notifiers: console, email, webhooks, kafka, redis, websocket
//   - log      : level, format and optional rotated log file
//
// Secrets are never stored in the file: fields ending in _env name the
// environment variable that holds the value.
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
