/*
Package comm provides a serialized connection to line-oriented lab hardware.

A RemoteDevice wraps either a serial port or a TCP socket.  Every exchange is
performed under a mutex, so a command and the line that acknowledges it are
never interleaved with another caller's.

Usage is usually:

	rd := comm.NewRemoteDevice("/dev/ttyACM0", true, &comm.Terminators{Rx: '\n'}, comm.SerialConfig(57600))
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	ack, err := rd.SendRecv([]byte{42, 5, 1})
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// CR is a carriage return
	CR = byte('\r')

	// LF is a line feed
	LF = byte('\n')
)

var (
	// ErrNoSerialConf is generated when a serial device has no serial.Config
	ErrNoSerialConf = errors.New("device is serial but has no serial config")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the receive and transmit line endings.  A zero Tx means
// nothing is appended on Send.
type Terminators struct {
	Rx byte
	Tx byte
}

// SerialConfig returns an 8N1 serial config at baud with a 100 ms read timeout.
// The Name is filled in by Open from the device address.
func SerialConfig(baud int) *serial.Config {
	return &serial.Config{
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
}

// RemoteDevice has an address and a connection that is opened on demand
type RemoteDevice struct {
	sync.Mutex

	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// DialFunc, if not nil, replaces the serial or TCP dial in Open
	DialFunc func() (io.ReadWriteCloser, error)

	serCfg *serial.Config
	term   Terminators
	rdr    *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice.  term nil uses CR in both
// directions.  serCfg is required when serial is true.
func NewRemoteDevice(addr string, serial bool, term *Terminators, serCfg *serial.Config) *RemoteDevice {
	t := Terminators{Rx: CR, Tx: CR}
	if term != nil {
		t = *term
	}
	return &RemoteDevice{Addr: addr, IsSerial: serial, term: t, serCfg: serCfg}
}

// Open the connection, retrying with exponential backoff for up to three seconds
func (rd *RemoteDevice) Open() error {
	rd.Lock()
	defer rd.Unlock()
	if rd.Conn != nil {
		return nil
	}
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") || err == ErrNoSerialConf {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	switch {
	case rd.DialFunc != nil:
		conn, err = rd.DialFunc()
	case rd.IsSerial:
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		cfg := *rd.serCfg
		cfg.Name = rd.Addr
		conn, err = serial.OpenPort(&cfg)
	default:
		conn, err = TCPSetup(rd.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.Lock()
	defer rd.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.rdr = nil
	}
	return err
}

// Send writes b followed by the Tx terminator, if any
func (rd *RemoteDevice) Send(b []byte) error {
	rd.Lock()
	defer rd.Unlock()
	return rd.send(b)
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if rd.term.Tx != 0 {
		b = append(append([]byte{}, b...), rd.term.Tx)
	}
	_, err := rd.Conn.Write(b)
	return err
}

// Recv reads one line and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	return rd.recv()
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.rdr == nil {
		rd.rdr = bufio.NewReader(rd.Conn)
	}
	term := rd.term.Rx
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return buf, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	if term == LF {
		buf = bytes.TrimSuffix(buf, []byte{CR})
	}
	return buf, nil
}

// SendRecv sends b then returns the next line, atomically
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
