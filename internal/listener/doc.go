// Package listener accepts loopback TCP connections from interpreter
// processes.
//
// Connections whose peer is not 127.0.0.1 (or its IPv6-mapped form) are
// closed immediately without a response. Accepted connections are passed
// to a Handler, which is responsible for identifying the worker the
// connection belongs to.
//
// Callbacks registered with WhenReady run once the listener is bound:
//
//	l := listener.New(log, handler)
//	l.WhenReady(func() { spawnWorkers(l.Addr()) })
//	if err := l.Listen(ctx, "127.0.0.1", 0); err != nil {
//	    return err
//	}
//	defer l.Close()
package listener
