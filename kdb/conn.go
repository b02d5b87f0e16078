package kdb

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// 0 - v2.5, no compression, no timestamp, no timespan, no uuid
// 1..2 - v2.6-2.8, compression, timestamp, timespan
// 3 - v3.0, compression, timestamp, timespan, uuid
const maxIPCVersion = 3

// Conn represents a connection and communicates using the q IPC protocol.
//
// A Conn is a single sequential channel: one in-flight sync call at a
// time, blocking reads, no internal locking. Callers needing concurrent
// requests must use separate connections or serialize externally.
type Conn struct {
	con      net.Conn
	rbuf     *bufio.Reader
	address  string
	auth     string
	version  int
	loopback bool
	zip      bool
	pending  int
}

var ErrConnClosed = errors.New("Closed connection")

// ErrAuth: server closed the connection before sending its version byte
var ErrAuth = errors.New("access")

// DialKDB connects to host:port using supplied user:password auth
// ("" for none) and waits until connected.
func DialKDB(host string, port int, auth string) (*Conn, error) {
	return DialKDBTimeout(host, port, auth, 0)
}

// DialKDBTimeout connects like DialKDB but gives up after timeout. The
// timeout also becomes the socket deadline for the handshake, so a peer
// that accepts and then never answers cannot hang the dial; the
// deadline is cleared once the handshake completes.
func DialKDBTimeout(host string, port int, auth string, timeout time.Duration) (*Conn, error) {
	address := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	if c, ok := conn.(*net.TCPConn); ok {
		_ = c.SetKeepAlive(true)
		_ = c.SetNoDelay(true)
	}
	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, err
		}
	}
	kdbconn, err := newConn(conn, address, auth)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			kdbconn.Close()
			return nil, err
		}
	}
	return kdbconn, nil
}

// DialTLS connects to host:port using TLS with the cfg provided.
func DialTLS(host string, port int, auth string, cfg *tls.Config) (*Conn, error) {
	address := fmt.Sprintf("%s:%d", host, port)
	c, err := tls.Dial("tcp", address, cfg)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.NetConn().(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetNoDelay(true)
	}
	return newConn(c, address, auth)
}

func newConn(c net.Conn, address, auth string) (*Conn, error) {
	version, err := handshake(c, auth)
	if err != nil {
		return nil, err
	}
	kdbconn := &Conn{
		con:      c,
		rbuf:     bufio.NewReader(c),
		address:  address,
		auth:     auth,
		version:  version,
		loopback: isLoopback(c),
		zip:      true,
	}
	return kdbconn, nil
}

// handshake sends "user:pass" + the client's max supported protocol
// version byte + a trailing zero, then reads exactly one byte: the
// server's negotiated version. Anything short of that byte is an
// access failure.
func handshake(c net.Conn, auth string) (int, error) {
	buf := make([]byte, 0, len(auth)+2)
	buf = append(buf, auth...)
	buf = append(buf, maxIPCVersion, 0)
	if _, err := c.Write(buf); err != nil {
		c.Close()
		return 0, err
	}
	var reply [1]byte
	if _, err := io.ReadFull(c, reply[:]); err != nil {
		c.Close()
		// closed before the version byte is an access failure; a
		// deadline expiring is an I/O error and stays one
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
			errors.Is(err, syscall.ECONNRESET) {
			return 0, ErrAuth
		}
		return 0, err
	}
	version := int(reply[0])
	if version > maxIPCVersion {
		version = maxIPCVersion
	}
	return version, nil
}

func isLoopback(c net.Conn) bool {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *Conn) ok() bool {
	return c.con != nil
}

// fail marks the connection dead after a transport error. It is never
// auto-healed; the caller must reconnect explicitly.
func (c *Conn) fail() {
	if c.con != nil {
		c.con.Close()
		c.con = nil
	}
}

// Close the connection to the server. Idempotent.
func (c *Conn) Close() error {
	if !c.ok() {
		return ErrConnClosed
	}
	err := c.con.Close()
	c.con = nil
	return err
}

// Version returns the negotiated IPC protocol version.
func (c *Conn) Version() int {
	return c.version
}

// SetCompression enables or disables IPC compression of outbound
// messages. Compression is always suppressed on loopback connections.
func (c *Conn) SetCompression(b bool) {
	c.zip = b
}

// WriteMessage sends data in q IPC format. Encoding errors (unsupported
// value, bad symbol) happen before any byte reaches the socket and leave
// the connection usable; a socket write error kills it.
func (c *Conn) WriteMessage(msgtype ReqType, data *K) error {
	if !c.ok() {
		return ErrConnClosed
	}
	buf, err := serialize(msgtype, data, c.version, c.zip && !c.loopback)
	if err != nil {
		return err
	}
	if _, err := c.con.Write(buf); err != nil {
		c.fail()
		return err
	}
	return nil
}

// ReadMessage reads one complete message from the connection. Receiving
// a sync request leaves a response owed to the peer.
func (c *Conn) ReadMessage() (data *K, msgtype ReqType, err error) {
	if !c.ok() {
		return nil, 0, ErrConnClosed
	}
	data, msgtype, err = Decode(c.rbuf)
	if err != nil {
		var kerr *KError
		if !errors.As(err, &kerr) {
			c.fail()
		}
		return nil, msgtype, err
	}
	if msgtype == SYNC {
		c.pending++
	}
	return data, msgtype, nil
}

// apply builds the generic-list call value [funcNameAsCharVector, args...].
// The function name always travels as a char vector; string arguments
// keep their default symbol typing unless wrapped with CharVector.
func apply(cmd string, args []*K) *K {
	cmdK := CharVector(cmd)
	if len(args) == 0 {
		return cmdK
	}
	return &K{K0, NONE, append([]*K{cmdK}, args...)}
}

// Call performs a synchronous call to kdb+ similar to h(func;arg1;arg2;...).
// Async messages the peer pushes while the call is outstanding are
// discarded; a pushed sync request is counted so it can still be
// answered with Response/Err after the call returns. A remote error
// comes back as *KError and leaves the connection usable; transport
// errors kill the connection.
func (c *Conn) Call(cmd string, args ...*K) (*K, error) {
	if !c.ok() {
		return nil, ErrConnClosed
	}
	if err := c.WriteMessage(SYNC, apply(cmd, args)); err != nil {
		return nil, err
	}
	for {
		data, msgtype, err := c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgtype == RESPONSE {
			return data, nil
		}
	}
}

// AsyncCall performs an asynchronous call to kdb+. No response is awaited.
func (c *Conn) AsyncCall(cmd string, args ...*K) error {
	if !c.ok() {
		return ErrConnClosed
	}
	return c.WriteMessage(ASYNC, apply(cmd, args))
}

// Response sends a response to a sync request received via ReadMessage.
func (c *Conn) Response(data *K) error {
	if !c.ok() {
		return ErrConnClosed
	}
	if c.pending == 0 {
		return ErrNoSyncRequest
	}
	if err := c.WriteMessage(RESPONSE, data); err != nil {
		return err
	}
	c.pending--
	return nil
}

// Err sends an error response carrying text to a sync request received
// via ReadMessage.
func (c *Conn) Err(text string) error {
	if !c.ok() {
		return ErrConnClosed
	}
	if c.pending == 0 {
		return ErrNoSyncRequest
	}
	if err := c.WriteMessage(RESPONSE, &K{KERR, NONE, text}); err != nil {
		return err
	}
	c.pending--
	return nil
}

// IsConnected probes liveness by round-tripping a trivial expression.
// It never returns an error: a remote error still proves the peer is
// answering, anything else reports false.
func (c *Conn) IsConnected() bool {
	if !c.ok() {
		return false
	}
	_, err := c.Call("1+1")
	if err == nil {
		return true
	}
	var kerr *KError
	return errors.As(err, &kerr)
}
