package tick

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/peteclarkez/homeassistant-kdbtick/kdb"
)

// Client manages one connection to a tickerplant behind a boolean API.
// Every method converts transport errors to a false return after
// logging them; nothing thrown by the IPC layer escapes this seam.
//
// Like the underlying kdb.Conn, a Client is not safe for concurrent
// use.
type Client struct {
	host string
	port int
	auth string
	conn *kdb.Conn
	log  zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		host: cfg.Host,
		port: cfg.Port,
		auth: cfg.Auth,
		log:  log.With().Str("component", "tick").Logger(),
	}
}

// Connect establishes the connection, dropping any previous one first.
func (c *Client) Connect() bool {
	if err := c.connect(); err != nil {
		c.log.Error().Err(err).Msg("failed to connect to kdb+")
		return false
	}
	c.log.Info().Str("host", c.host).Int("port", c.port).Msg("connected to kdb+")
	return true
}

func (c *Client) connect() error {
	if c.conn != nil {
		c.Close()
		reconnects.Inc()
	}
	conn, err := kdb.DialKDB(c.host, c.port, c.auth)
	if err != nil {
		return errors.Wrapf(err, "dial %s:%d", c.host, c.port)
	}
	c.conn = conn
	return nil
}

// IsConnected probes the connection with a trivial round trip. It only
// ever returns a boolean.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Send delivers payload to the update function: the table name travels
// as a symbol, the payload as a char vector. Reconnects once if the
// connection is down; reports failure as false.
func (c *Client) Send(fn, tableName, payload string) bool {
	if c.conn == nil {
		reconnects.Inc()
		if !c.Connect() {
			recordSend(false)
			return false
		}
	}
	_, err := c.conn.Call(fn, kdb.Symbol(tableName), kdb.CharVector(payload))
	if err != nil {
		c.log.Error().Err(err).Str("func", fn).Str("table", tableName).
			Msg("failed to send to kdb+")
		c.Close()
		recordSend(false)
		return false
	}
	recordSend(true)
	return true
}

// Close releases the connection. Safe to call repeatedly.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
