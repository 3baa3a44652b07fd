package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/term"
)

// readTimeout bounds each read so Close is noticed by the reader
const readTimeout = 200 * time.Millisecond

// Port is a serial device opened in raw mode
type Port struct {
	t      *term.Term
	name   string
	closed atomic.Bool
}

// OpenSerial opens name (e.g. /dev/ttyUSB0) at baud in raw mode
func OpenSerial(name string, baud int) (*Port, error) {
	t, err := term.Open(name, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := t.SetReadTimeout(readTimeout); err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	// throw away whatever the controller printed before we opened it
	_ = t.Flush()

	return &Port{t: t, name: name}, nil
}

// Read blocks until data arrives or the port is closed. The device reports
// an expired read timeout as a zero-byte io.EOF, which is retried.
func (p *Port) Read(b []byte) (int, error) {
	for {
		n, err := p.t.Read(b)
		if p.closed.Load() {
			return n, errPortClosed
		}
		if n == 0 && errors.Is(err, io.EOF) {
			continue
		}
		return n, err
	}
}

// Write sends b to the device
func (p *Port) Write(b []byte) (int, error) {
	return p.t.Write(b)
}

// Close releases the device
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.t.Close()
}

// Name returns the device path
func (p *Port) Name() string {
	return p.name
}

var errPortClosed = errors.New("serial port closed")
