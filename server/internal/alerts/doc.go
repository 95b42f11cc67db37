// Package alerts implements the rule evaluator and the alert engine.
//
// Evaluate is a pure function from (rule, snapshot, state) to a Decision.
// Engine owns the live rule set and the per-rule runtime state. It runs
// the evaluator over every enabled rule, applies cooldown, fans fired
// events out to the registered notifiers and appends them to history.
// One notifier failing never blocks the others or the history write.
package alerts
