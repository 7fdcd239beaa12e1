// Package subprocess spawns interpreter processes for workers.
//
// This package implements the process side of a worker: starting the
// executable, streaming its stdout and stderr, reporting exit, and
// delivering signals. Spawn failures are returned as errors and never
// panic, so the worker can record a dead-on-arrival state.
package subprocess
