package serial

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Simulator is an in-memory controller. It records every command line and
// answers each one with Reply(cmd), "ok" by default. It stands in for the
// serial port in dry runs and tests.
type Simulator struct {
	// Reply returns the response line for a command; "" sends nothing
	Reply func(cmd string) string

	mu       sync.Mutex
	cond     *sync.Cond
	pending  bytes.Buffer
	partial  []byte
	commands []string
	closed   bool
}

// NewSimulator creates a simulator that prints banner on start-up when banner
// is not empty
func NewSimulator(banner string) *Simulator {
	s := &Simulator{}
	s.cond = sync.NewCond(&s.mu)
	if banner != "" {
		s.pending.WriteString(banner + "\n")
	}
	return s
}

// Write consumes command bytes and queues one reply per complete line
func (s *Simulator) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.partial = append(s.partial, b...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimSpace(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
		if cmd == "" {
			continue
		}

		s.commands = append(s.commands, cmd)

		reply := "ok"
		if s.Reply != nil {
			reply = s.Reply(cmd)
		}
		if reply != "" {
			s.pending.WriteString(reply + "\n")
		}
	}

	s.cond.Broadcast()
	return len(b), nil
}

// Read blocks until a reply is queued or the simulator is closed
func (s *Simulator) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pending.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.pending.Len() == 0 {
		return 0, io.EOF
	}
	return s.pending.Read(b)
}

// Emit queues an unsolicited line, e.g. a late reply
func (s *Simulator) Emit(line string) {
	s.mu.Lock()
	s.pending.WriteString(line + "\n")
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Commands returns every command received so far
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Reset forgets the recorded commands
func (s *Simulator) Reset() {
	s.mu.Lock()
	s.commands = nil
	s.mu.Unlock()
}

// Close wakes any blocked reader with io.EOF
func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}
