// Package shutter controls the UV illumination shutter.
//
// The production shutter is a TTL line driven by an Arduino running a small
// firmware that accepts three-byte commands: a mode byte (42, digital write),
// a pin number, and 1 or 0.  Each command is answered by one line, which is
// read and discarded.
package shutter

import (
	"sync"
	"sync/atomic"

	"github.com/nasa-jpl/daisy/comm"
	"github.com/nasa-jpl/daisy/fault"
	"github.com/nasa-jpl/daisy/logger"
)

const (
	// DigitalWrite is the firmware's mode byte for setting a pin
	DigitalWrite byte = 42

	// DefaultPin is the pin the shutter TTL line is wired to
	DefaultPin byte = 5

	// DefaultBaud is the Arduino serial rate
	DefaultBaud = 57600
)

// Shutter opens and closes a light path
type Shutter interface {
	// SetShutter opens the shutter (true) or closes it (false)
	SetShutter(bool) error

	// GetShutter returns true if the shutter is open
	GetShutter() (bool, error)
}

// Arduino is a shutter driven over a serial link
type Arduino struct {
	rd   *comm.RemoteDevice
	pin  byte
	log  logger.ILogger
	mu   sync.Mutex
	open bool
}

// NewArduino returns a shutter on the serial port addr, driving pin.
// The port is not opened until Connect is called.
func NewArduino(addr string, pin byte, l logger.ILogger) *Arduino {
	rd := comm.NewRemoteDevice(addr, true, &comm.Terminators{Rx: comm.LF}, comm.SerialConfig(DefaultBaud))
	return &Arduino{rd: rd, pin: pin, log: logger.OrNull(l)}
}

// NewArduinoOn returns a shutter that talks over an existing remote device
func NewArduinoOn(rd *comm.RemoteDevice, pin byte, l logger.ILogger) *Arduino {
	return &Arduino{rd: rd, pin: pin, log: logger.OrNull(l)}
}

// Connect opens the serial port and drives the shutter closed
func (a *Arduino) Connect() error {
	if err := a.rd.Open(); err != nil {
		return fault.NewDevice("shutter connect", err)
	}
	return a.SetShutter(false)
}

// Close closes the shutter then releases the serial port
func (a *Arduino) Close() error {
	if err := a.SetShutter(false); err != nil {
		a.log.Errorf("closing shutter on disconnect: %v", err)
	}
	return a.rd.Close()
}

// SetShutter writes the pin state.  A failure to read the acknowledgement is
// logged and does not fail the call; a failure to write does.
func (a *Arduino) SetShutter(b bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var v byte
	if b {
		v = 1
	}
	if err := a.rd.Send([]byte{DigitalWrite, a.pin, v}); err != nil {
		return fault.NewDevice("shutter write", err)
	}
	if _, err := a.rd.Recv(); err != nil {
		a.log.Debugf("shutter acknowledgement: %v", err)
	}
	a.open = b
	return nil
}

// GetShutter returns the last commanded state
func (a *Arduino) GetShutter() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open, nil
}

// Mock is an in-memory shutter that records every transition
type Mock struct {
	sync.Mutex
	open bool

	// Log holds each commanded state in order
	Log []bool

	// Err, if not nil, is returned by SetShutter
	Err error
}

// SetShutter records b
func (m *Mock) SetShutter(b bool) error {
	m.Lock()
	defer m.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.open = b
	m.Log = append(m.Log, b)
	return nil
}

// GetShutter returns the last commanded state
func (m *Mock) GetShutter() (bool, error) {
	m.Lock()
	defer m.Unlock()
	return m.open, nil
}

// Opens returns the number of times the shutter was opened
func (m *Mock) Opens() int {
	m.Lock()
	defer m.Unlock()
	n := 0
	for _, b := range m.Log {
		if b {
			n++
		}
	}
	return n
}

// Null is a shutter with no hardware behind it.  It remembers the last
// commanded state.
type Null struct {
	open atomic.Bool
}

// SetShutter records b
func (n *Null) SetShutter(b bool) error {
	n.open.Store(b)
	return nil
}

// GetShutter returns the last commanded state
func (n *Null) GetShutter() (bool, error) { return n.open.Load(), nil }
