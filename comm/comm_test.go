package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/nasa-jpl/daisy/comm"
)

// loopback records writes and replays a canned response
type loopback struct {
	w      bytes.Buffer
	r      io.Reader
	closed bool
}

func (l *loopback) Read(p []byte) (int, error)  { return l.r.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.w.Write(p) }
func (l *loopback) Close() error                { l.closed = true; return nil }

func newDevice(resp string, term *comm.Terminators) (*comm.RemoteDevice, *loopback) {
	lb := &loopback{r: strings.NewReader(resp)}
	rd := comm.NewRemoteDevice("loopback", false, term, nil)
	rd.DialFunc = func() (io.ReadWriteCloser, error) { return lb, nil }
	return rd, lb
}

func TestSendRecvDefaultTerminators(t *testing.T) {
	rd, lb := newDevice("OK\r", nil)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	resp, err := rd.SendRecv([]byte("RD?"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "OK" {
		t.Errorf("expected OK, got %q", resp)
	}
	if lb.w.String() != "RD?\r" {
		t.Errorf("expected RD?\\r written, got %q", lb.w.String())
	}
}

func TestRawBytesNoTxTerminator(t *testing.T) {
	rd, lb := newDevice("ack\r\n", &comm.Terminators{Rx: comm.LF})
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	resp, err := rd.SendRecv([]byte{42, 5, 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "ack" {
		t.Errorf("expected ack with CRLF stripped, got %q", resp)
	}
	if !bytes.Equal(lb.w.Bytes(), []byte{42, 5, 1}) {
		t.Errorf("expected raw command bytes, got %v", lb.w.Bytes())
	}
}

func TestRecvConsecutiveLines(t *testing.T) {
	rd, _ := newDevice("a\nb\n", &comm.Terminators{Rx: comm.LF})
	rd.Open()
	for _, exp := range []string{"a", "b"} {
		got, err := rd.Recv()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != exp {
			t.Errorf("expected %q, got %q", exp, got)
		}
	}
}

func TestRecvMissingTerminator(t *testing.T) {
	rd, _ := newDevice("partial", &comm.Terminators{Rx: comm.LF})
	rd.Open()
	_, err := rd.Recv()
	if err != comm.ErrTerminatorNotFound {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
}

func TestNotConnected(t *testing.T) {
	rd := comm.NewRemoteDevice("nowhere", false, nil, nil)
	if err := rd.Send([]byte("x")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := rd.Recv(); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestCloseClearsConn(t *testing.T) {
	rd, lb := newDevice("", nil)
	rd.Open()
	if err := rd.Close(); err != nil {
		t.Fatal(err)
	}
	if !lb.closed || rd.Conn != nil {
		t.Error("close did not release the connection")
	}
	if err := rd.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestSerialWithoutConfig(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/null", true, nil, nil)
	if err := rd.Open(); !errors.Is(err, comm.ErrNoSerialConf) {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}

func TestTCPEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("cannot listen:", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		io.Copy(conn, conn)
	}()
	rd := comm.NewRemoteDevice(ln.Addr().String(), false, nil, nil)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "ping" {
		t.Errorf("expected echo, got %q", resp)
	}
}

func TestSerialConfig(t *testing.T) {
	c := comm.SerialConfig(57600)
	if c.Baud != 57600 || c.Size != 8 {
		t.Errorf("unexpected serial config %+v", c)
	}
}
