// Package monitor drives the alert engine on a fixed cadence. A Loop pulls a
// market snapshot from a Provider on every tick and hands it to the engine.
// Fetch failures skip the cycle without stopping the loop.
package monitor
