// Package session binds accepted connections to workers.
//
// The first line an interpreter sends must be a handshake frame naming its
// worker id:
//
//	{"event":"handshake","data":["wk3x90"]}
//
// The handler looks the worker up, attaches the connection (which flushes
// any queued events) and then dispatches every following frame to the
// worker's subscribers until the peer hangs up.
package session
