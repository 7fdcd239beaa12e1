// Package errors defines error types for the interpreter bridge.
//
// This package provides structured error types for the failure scenarios of
// worker construction, process exit, inbound frame parsing and connection
// handshakes. All error types support error unwrapping and can be checked
// using errors.Is, errors.As, and errors.AsType.
package errors
