// Package worker owns one interpreter process and the loopback connection
// that carries events to it.
//
// A Worker moves through these states and never back:
//
//	Spawning -> Alive -> Dying (signal sent) -> Dead (cleaned up)
//	Spawning -> DeadOnArrival (spawn produced no process)
//
// Events emitted before a connection is attached are queued and flushed in
// order on attach. The first attached connection wins; later attachments
// are refused so a live session cannot be taken over. When the process
// exits, queued events are dropped and the connection is hard-closed.
//
// Example usage:
//
//	w, err := worker.New(log, &worker.Options{
//	    Path: "/usr/bin/Rscript",
//	    Args: []string{"bridge.R"},
//	})
//	if err != nil {
//	    return err // bad executable path
//	}
//
//	w.Emit("eval", "1 + 1")          // queued until the interpreter connects
//	err = w.Kill(ctx, syscall.SIGTERM, 5*time.Second)
package worker
