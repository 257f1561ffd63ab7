// Package prefetch runs a background producer goroutine ahead of a
// generator.Generator, so callers on the consuming side rarely block on
// generation. The producer/consumer handoff and teardown-by-done-channel
// shape mirrors a connection pool's background cleanup routine, adapted
// here to filling rather than reaping.
package prefetch

import (
	"fmt"
	"sync"

	"github.com/NotsoanoNimus/nanofuzz/pkgs/generator"
)

// Mode selects how the background producer behaves once it has filled the
// stack to its configured depth.
type Mode int

const (
	// Oneshot fills the stack once and stops; once drained, Next returns
	// an error instead of blocking for more.
	Oneshot Mode = iota

	// Refill keeps producing for as long as the stack is open, blocking
	// the producer goroutine whenever the stack is already full.
	Refill
)

// Stack is a bounded, pre-filled queue of generated artifacts sitting in
// front of one Generator.
type Stack struct {
	mu   sync.Mutex
	gen  *generator.Generator
	mode Mode

	items chan []byte
	done  chan struct{}
	once  sync.Once
}

// New starts a background producer filling a Stack of the given depth from
// gen. gen is not safe for concurrent use by anything else while the Stack
// is running.
func New(gen *generator.Generator, depth int, mode Mode) *Stack {
	if depth <= 0 {
		depth = 1
	}
	s := &Stack{
		gen:   gen,
		mode:  mode,
		items: make(chan []byte, depth),
		done:  make(chan struct{}),
	}
	go s.fill()
	return s
}

func (s *Stack) fill() {
	// Closing items once the producer stops lets Next report a drained
	// stack instead of blocking for artifacts that will never arrive.
	defer close(s.items)
	produced := 0
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		data, err := s.gen.Next()
		s.mu.Unlock()
		if err != nil {
			return
		}

		select {
		case s.items <- data:
			produced++
		case <-s.done:
			return
		}

		if s.mode == Oneshot && produced >= cap(s.items) {
			return
		}
	}
}

// Next returns the next prefetched artifact, blocking until one is ready.
// It returns an error once the producer has stopped (a Oneshot stack that
// has produced its depth, a generation error, or Close) and every artifact
// already buffered has been handed out.
func (s *Stack) Next() ([]byte, error) {
	select {
	case data, ok := <-s.items:
		if !ok {
			return nil, fmt.Errorf("nanofuzz: prefetch stack is closed")
		}
		return data, nil
	case <-s.done:
		select {
		case data, ok := <-s.items:
			if !ok {
				return nil, fmt.Errorf("nanofuzz: prefetch stack is closed")
			}
			return data, nil
		default:
			return nil, fmt.Errorf("nanofuzz: prefetch stack is closed")
		}
	}
}

// Close stops the background producer. It is safe to call more than once.
func (s *Stack) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
