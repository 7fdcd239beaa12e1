package worker

import (
	"encoding/json"
	"slices"
	"sync"
)

// Handler receives an inbound event and its raw arguments.
type Handler func(event string, data []json.RawMessage)

// wildcard subscribes to every event.
const wildcard = "*"

type subscription struct {
	event string
	fn    Handler
}

type subscribers struct {
	mu   sync.RWMutex
	list []*subscription
}

func (s *subscribers) add(event string, fn Handler) func() {
	sub := &subscription{event: event, fn: fn}

	s.mu.Lock()
	s.list = append(s.list, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.list = slices.DeleteFunc(s.list, func(x *subscription) bool { return x == sub })
	}
}

func (s *subscribers) dispatch(event string, data []json.RawMessage) int {
	s.mu.RLock()

	matched := make([]Handler, 0, len(s.list))
	for _, sub := range s.list {
		if sub.event == event || sub.event == wildcard {
			matched = append(matched, sub.fn)
		}
	}

	s.mu.RUnlock()

	for _, fn := range matched {
		fn(event, data)
	}

	return len(matched)
}
