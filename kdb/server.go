package kdb

import (
	"bufio"
	"errors"
	"net"
)

// Handler processes one decoded sync request. It responds through the
// connection's Response/Err methods.
type Handler func(*Conn, *K) error

// ListenAndServe accepts q IPC connections on addr and serves client
// requests with handler.
func ListenAndServe(addr string, handler Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	return Serve(ln, handler)
}

// Serve accepts connections from ln and serves them with handler. It
// lets tests listen on an ephemeral port before serving.
func Serve(ln net.Listener, handler Handler) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serve(conn, handler)
	}
}

// serve answers the credential handshake and then processes frames until
// the peer goes away. Async messages are consumed without reply.
func serve(conn net.Conn, handler Handler) {
	defer conn.Close()
	if c, ok := conn.(*net.TCPConn); ok {
		_ = c.SetKeepAlive(true)
		_ = c.SetNoDelay(true)
	}
	// credentials: "user:pass" + version byte + zero byte
	cred := make([]byte, 100)
	n, err := conn.Read(cred)
	if err != nil || n < 2 {
		return
	}
	version := cred[n-2]
	if version > maxIPCVersion {
		version = maxIPCVersion
	}
	if _, err := conn.Write([]byte{version}); err != nil {
		return
	}
	c := &Conn{
		con:      conn,
		rbuf:     bufio.NewReader(conn),
		address:  conn.RemoteAddr().String(),
		version:  int(version),
		loopback: isLoopback(conn),
		zip:      true,
	}
	for {
		data, msgtype, err := c.ReadMessage()
		if err != nil {
			var kerr *KError
			if errors.As(err, &kerr) {
				continue
			}
			// EOF or transport error; the conn is already invalidated
			return
		}
		if msgtype == SYNC {
			if err := handler(c, data); err != nil {
				_ = c.Err(err.Error())
			}
		}
	}
}

// EchoHandler responds to every sync request with the request payload.
func EchoHandler(c *Conn, data *K) error {
	return c.Response(data)
}
