package datalogger

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// PortOpener opens a serial device. Tests swap in a fake.
type PortOpener func(device string, baud int, pollTimeout time.Duration) (io.ReadCloser, error)

var serialOpen = serial.Open

// OpenSerial opens device at baud, 8N1, with reads bounded by pollTimeout.
// A zero pollTimeout makes Read return immediately when nothing is buffered.
func OpenSerial(device string, baud int, pollTimeout time.Duration) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serialOpen(device, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(pollTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// Endpoint owns the open port for one session.
type Endpoint struct {
	Device string
	port   io.ReadCloser
	closed bool
}

func (e *Endpoint) Read(p []byte) (int, error) {
	if e.closed {
		return 0, io.ErrClosedPipe
	}
	return e.port.Read(p)
}

// Close releases the port. Calling it again is a no-op.
func (e *Endpoint) Close() error {
	if e.closed || e.port == nil {
		e.closed = true
		return nil
	}
	e.closed = true
	return e.port.Close()
}

func (e *Endpoint) Closed() bool { return e.closed }
