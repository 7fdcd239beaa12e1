// Package rbridge runs interpreter processes as workers and exchanges JSON
// events with them over a loopback TCP connection.
//
// Each worker is spawned with RBRIDGE_HOST, RBRIDGE_PORT and
// RBRIDGE_WORKER_ID in its environment. It connects back to the bridge and
// sends a handshake line naming its id:
//
//	{"event":"handshake","data":["w1x2y3"]}
//
// After that both directions carry one compact JSON object per line:
//
//	{"event":"<name>","data":[<arg>, ...]}
//
// # Basic Usage
//
//	b := rbridge.New(rbridge.WithLogger(slog.Default()))
//	if err := b.Listen(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(ctx)
//
//	w, err := b.Spawn("python3", "worker.py")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w.On("result", func(event string, data []json.RawMessage) {
//	    fmt.Println(string(data[0]))
//	})
//
//	// Queued until the worker connects, then delivered in order.
//	w.Emit("run", "job-1", map[string]any{"n": 3})
//
// # Lifecycle
//
// A worker is alive from spawn until its process exits. Events emitted
// before the worker connects are queued and flushed in order on connect;
// events still queued when the process exits are dropped. Only the first
// connection presenting a worker's id is attached. Kill sends the
// configured signal and waits up to the kill timeout:
//
//	if err := b.Kill(ctx, w.ID()); errors.Is(err, rbridge.ErrKillTimeout) {
//	    _ = w.Process().Signal(syscall.SIGKILL)
//	}
//
// # Error Handling
//
//	if _, err := b.Spawn("./missing"); err != nil {
//	    if execErr, ok := errors.AsType[*rbridge.ExecutableError](err); ok {
//	        log.Fatalf("not runnable: %s", execErr.Path)
//	    }
//	}
//
// A process that cannot be started is reported through Worker.SpawnErr
// rather than an error from Spawn.
package rbridge
