// Package rules defines alert rules: their kinds, typed parameters,
// validation, the record format used for import/export and the rules file
// watcher.
//
// Each rule kind has exactly one Condition type. Condition is a closed set:
// only this package can add implementations, so evaluators may switch over
// the concrete types exhaustively.
//
// Records are the serialized form:
//
//	rules:
//	  - id: breakout
//	    name: Price breakout
//	    kind: price_above
//	    parameters: {threshold: 75000}
//	    cooldown_seconds: 1800
//	    enabled: true
//
// Runtime state (last value, last firing) is never part of a record.
package rules
