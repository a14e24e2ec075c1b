// Package smtp implements an SMTP submission client (RFC 5321) with
// EHLO capability discovery, STARTTLS, AUTH via SASL, and the
// MAIL/RCPT/DATA pipeline with dot-stuffed message bodies.
package smtp

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"

	"github.com/emersion/go-sasl"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// An SMTPError is a reply outside the expected class. Replies in the
// 4yz class are transient, 5yz permanent.
type SMTPError struct {
	Code    int
	Message string
}

func (err *SMTPError) Error() string {
	return fmt.Sprintf("smtp: %d %s", err.Code, err.Message)
}

// Temporary reports whether the failure is transient.
func (err *SMTPError) Temporary() bool {
	return err.Code/100 == 4
}

// Options configures a Client.
type Options struct {
	// LocalName is the hostname sent in EHLO/HELO; "localhost" when
	// empty.
	LocalName string

	TLSConfig *tls.Config
	Logger    kitlog.Logger
}

// Client is an SMTP client. Its methods follow the protocol's linear
// state machine: Hello, optionally StartTLS and Auth, then any number
// of Mail/Rcpt/Data envelopes, then Quit.
type Client struct {
	conn    net.Conn
	bw      *bufio.Writer
	r       *wire.Reader
	logger  kitlog.Logger
	options Options

	ext      map[string]string
	didHello bool
}

// NewClient binds a client to an established connection and consumes
// the server greeting.
func NewClient(conn net.Conn, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}
	logger := options.Logger
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	c := &Client{
		conn:    conn,
		bw:      bufio.NewWriter(conn),
		r:       wire.NewReader(bufio.NewReader(conn)),
		logger:  logger,
		options: *options,
	}
	if _, err := c.readReply(2); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// Dial connects to an SMTP server over plaintext TCP.
func Dial(addr string, options *Options) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, options)
}

// DialTLS connects with implicit TLS.
func DialTLS(addr string, options *Options) (*Client, error) {
	var cfg *tls.Config
	if options != nil {
		cfg = options.TLSConfig
	}
	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, options)
}

func (c *Client) localName() string {
	if c.options.LocalName != "" {
		return c.options.LocalName
	}
	return "localhost"
}

// Hello sends EHLO and records the advertised extensions, falling
// back to HELO for old servers. It runs implicitly before the first
// envelope command if not called.
func (c *Client) Hello() error {
	reply, err := c.cmd(0, "EHLO %s", c.localName())
	if err != nil {
		return err
	}
	if reply.Code/100 != 2 {
		if reply, err = c.cmd(2, "HELO %s", c.localName()); err != nil {
			return err
		}
		c.didHello = true
		return nil
	}

	c.ext = make(map[string]string)
	for _, line := range reply.Lines[1:] {
		name, params, _ := strings.Cut(line, " ")
		c.ext[strings.ToUpper(name)] = params
	}
	c.didHello = true
	return nil
}

func (c *Client) hello() error {
	if c.didHello {
		return nil
	}
	return c.Hello()
}

// Extension reports whether the server advertised the named EHLO
// extension and returns its parameters.
func (c *Client) Extension(name string) (bool, string) {
	params, ok := c.ext[strings.ToUpper(name)]
	return ok, params
}

// StartTLS upgrades the connection (RFC 3207) and re-issues EHLO,
// since the extension set may change.
func (c *Client) StartTLS() error {
	if err := c.hello(); err != nil {
		return err
	}
	if _, err := c.cmd(2, "STARTTLS"); err != nil {
		return err
	}
	tlsConn := tls.Client(c.conn, c.options.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	c.conn = tlsConn
	c.bw = bufio.NewWriter(tlsConn)
	c.r = wire.NewReader(bufio.NewReader(tlsConn))
	c.ext = nil
	return c.Hello()
}

// Auth runs a SASL exchange (RFC 4954). sasl.NewPlainClient and
// sasl.NewLoginClient cover the supported mechanisms.
func (c *Client) Auth(client sasl.Client) error {
	if err := c.hello(); err != nil {
		return err
	}
	// The exchange carries credentials; keep it off the debug log.
	logger := c.logger
	c.logger = kitlog.NewNopLogger()
	defer func() { c.logger = logger }()

	mech, ir, err := client.Start()
	if err != nil {
		return err
	}

	var reply *wire.Reply
	if ir != nil {
		reply, err = c.cmd(0, "AUTH %s %s", mech, base64.StdEncoding.EncodeToString(ir))
	} else {
		reply, err = c.cmd(0, "AUTH %s", mech)
	}
	if err != nil {
		return err
	}
	for reply.Code == 334 {
		challenge, err := base64.StdEncoding.DecodeString(reply.Text())
		if err != nil {
			return err
		}
		resp, err := client.Next(challenge)
		if err != nil {
			// Abort the exchange per RFC 4954.
			c.cmd(0, "*")
			return err
		}
		if reply, err = c.cmd(0, "%s", base64.StdEncoding.EncodeToString(resp)); err != nil {
			return err
		}
	}
	if reply.Code/100 != 2 {
		return &SMTPError{Code: reply.Code, Message: reply.Text()}
	}
	return nil
}

// Mail starts a message envelope.
func (c *Client) Mail(from string) error {
	if err := c.hello(); err != nil {
		return err
	}
	_, err := c.cmd(2, "MAIL FROM:<%s>", from)
	return err
}

// Rcpt adds an envelope recipient; call once per recipient.
func (c *Client) Rcpt(to string) error {
	_, err := c.cmd(2, "RCPT TO:<%s>", to)
	return err
}

// Data opens the message body. Lines written to the returned writer
// are dot-stuffed; Close sends the terminating ".", awaits the
// server's verdict and returns it.
func (c *Client) Data() (io.WriteCloser, error) {
	if _, err := c.cmd(3, "DATA"); err != nil {
		return nil, err
	}
	tw := textproto.NewWriter(c.bw)
	return &dataCloser{c: c, wc: tw.DotWriter()}, nil
}

type dataCloser struct {
	c  *Client
	wc io.WriteCloser
}

func (d *dataCloser) Write(b []byte) (int, error) {
	return d.wc.Write(b)
}

func (d *dataCloser) Close() error {
	if err := d.wc.Close(); err != nil {
		return err
	}
	if err := d.c.bw.Flush(); err != nil {
		return err
	}
	_, err := d.c.readReply(2)
	return err
}

// Reset aborts the current envelope.
func (c *Client) Reset() error {
	_, err := c.cmd(2, "RSET")
	return err
}

// Noop pings the server.
func (c *Client) Noop() error {
	_, err := c.cmd(2, "NOOP")
	return err
}

// Quit ends the session and closes the connection.
func (c *Client) Quit() error {
	_, err := c.cmd(2, "QUIT")
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without QUIT.
func (c *Client) Close() error {
	return c.conn.Close()
}

// cmd writes one command line and reads the reply. A non-zero
// expectClass turns replies outside that class into an *SMTPError.
func (c *Client) cmd(expectClass int, format string, args ...interface{}) (*wire.Reply, error) {
	line := fmt.Sprintf(format, args...)
	level.Debug(c.logger).Log("dir", "send", "line", line)
	if _, err := c.bw.WriteString(line + "\r\n"); err != nil {
		return nil, err
	}
	if err := c.bw.Flush(); err != nil {
		return nil, err
	}
	return c.readReply(expectClass)
}

func (c *Client) readReply(expectClass int) (*wire.Reply, error) {
	reply, err := c.r.ReadReply()
	if err != nil {
		return nil, err
	}
	level.Debug(c.logger).Log("dir", "recv", "code", reply.Code)
	if expectClass != 0 && reply.Code/100 != expectClass {
		return reply, &SMTPError{Code: reply.Code, Message: reply.Text()}
	}
	return reply, nil
}
