package datalogger

import (
	"errors"
	"fmt"
)

var ErrUnknownSchema = errors.New("unknown schema")

const portRemediation = `make sure:
  1. the board is connected via USB
  2. the correct serial port is selected
  3. no other program (Arduino IDE, PlatformIO monitor) is using the port`

// ConnectError is returned when the serial endpoint cannot be opened.
type ConnectError struct {
	Device string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not open serial port %s: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Remediation() string { return portRemediation }

// IOError is returned when an open endpoint fails mid-session.
type IOError struct {
	Device string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("serial port %s failed: %v", e.Device, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Remediation() string {
	return "the device may have been unplugged, the path may be wrong, or the port is held by another process\n" + portRemediation
}

// Remediation returns operator guidance attached to err, if any.
func Remediation(err error) string {
	var r interface{ Remediation() string }
	if errors.As(err, &r) {
		return r.Remediation()
	}
	return ""
}

// HeaderMismatchError is returned when an appended file was started under a
// different schema.
type HeaderMismatchError struct {
	Path   string
	Header string
	Schema Schema
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("%s has header %q which does not match the %s schema", e.Path, e.Header, e.Schema)
}

func (e *HeaderMismatchError) Remediation() string {
	return "pick a new output file, or run without --append to start the file over"
}
