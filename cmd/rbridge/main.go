// Command rbridge spawns interpreter workers from a YAML config and bridges
// them over a loopback TCP port.
package main

import (
	"fmt"
	"os"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
