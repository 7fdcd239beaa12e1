package subprocess

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var signalsByName = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"TERM": syscall.SIGTERM,
}

// ParseSignal parses a signal by name ("SIGTERM", "term") or number ("15").
func ParseSignal(s string) (os.Signal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty signal")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return nil, fmt.Errorf("invalid signal number %d", n)
		}

		return syscall.Signal(n), nil
	}

	name := strings.TrimPrefix(strings.ToUpper(s), "SIG")

	sig, ok := signalsByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown signal %q", s)
	}

	return sig, nil
}
