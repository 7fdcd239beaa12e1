package frame

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wagiedev/rbridge-go/internal/errors"
)

// maxLineSize is the maximum size of a single inbound frame.
const maxLineSize = 1024 * 1024 // 1MB

// Event is an outbound event frame.
type Event struct {
	Event string `json:"event"`
	Data  []any  `json:"data"`
}

// Inbound is an event frame received from an interpreter.
type Inbound struct {
	Event string            `json:"event"`
	Data  []json.RawMessage `json:"data"`
}

// Encode serializes ev as compact JSON followed by a newline.
// A nil Data is encoded as an empty array.
func Encode(ev Event) ([]byte, error) {
	if ev.Data == nil {
		ev.Data = []any{}
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encode event %q: %w", ev.Event, err)
	}

	return buf.Bytes(), nil
}

// Decode parses a single line into an inbound frame.
func Decode(line []byte) (*Inbound, error) {
	line = bytes.TrimSpace(line)

	var in Inbound
	if err := json.Unmarshal(line, &in); err != nil {
		return nil, &errors.FrameDecodeError{RawData: string(line), Err: err}
	}

	if in.Event == "" {
		return nil, &errors.FrameDecodeError{
			RawData: string(line),
			Err:     fmt.Errorf("missing event name"),
		}
	}

	return &in, nil
}

// StringArg returns argument i decoded as a string.
func (in *Inbound) StringArg(i int) (string, bool) {
	if i < 0 || i >= len(in.Data) {
		return "", false
	}

	var s string
	if err := json.Unmarshal(in.Data[i], &s); err != nil {
		return "", false
	}

	return s, true
}

// NewScanner returns a line scanner sized for inbound frames.
func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return scanner
}
