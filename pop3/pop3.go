// Package pop3 implements a POP3 client (RFC 1939): USER/PASS and
// APOP authentication, then the transaction commands STAT, LIST,
// RETR, TOP, UIDL, DELE, NOOP and RSET, ending with QUIT.
package pop3

import (
	"bufio"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/mailhound/go-mailproto/internal/wire"
	"github.com/mailhound/go-mailproto/message"
)

// An Error is a server -ERR response.
type Error struct {
	Text string
}

func (err *Error) Error() string {
	return "pop3: " + err.Text
}

// Options configures a Client.
type Options struct {
	TLSConfig *tls.Config
	Logger    kitlog.Logger
}

// A MessageInfo is one LIST or UIDL line.
type MessageInfo struct {
	Number uint32
	Size   uint32
	UID    string
}

// Client is a POP3 client. It moves through the AUTHORIZATION,
// TRANSACTION and UPDATE states of RFC 1939.
type Client struct {
	conn   net.Conn
	bw     *bufio.Writer
	r      *wire.Reader
	logger kitlog.Logger

	// banner is the APOP timestamp from the greeting, if any.
	banner string
}

// NewClient binds a client to an established connection and consumes
// the greeting, capturing the APOP timestamp banner when present.
func NewClient(conn net.Conn, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}
	logger := options.Logger
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	c := &Client{
		conn:   conn,
		bw:     bufio.NewWriter(conn),
		r:      wire.NewReader(bufio.NewReader(conn)),
		logger: logger,
	}
	text, err := c.readStatus()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if i := strings.IndexByte(text, '<'); i >= 0 {
		if j := strings.IndexByte(text[i:], '>'); j >= 0 {
			c.banner = text[i : i+j+1]
		}
	}
	return c, nil
}

// Dial connects to a POP3 server over plaintext TCP.
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

// User sends the USER command.
func (c *Client) User(name string) error {
	_, err := c.cmd("USER %s", name)
	return err
}

// Pass sends the PASS command, completing USER/PASS authentication.
func (c *Client) Pass(password string) error {
	_, err := c.cmd("PASS %s", password)
	return err
}

// APOP authenticates with the digest scheme of RFC 1939 section 7:
// MD5 over the greeting timestamp concatenated with the shared
// secret.
func (c *Client) APOP(user, secret string) error {
	if c.banner == "" {
		return &Error{Text: "server offered no APOP timestamp"}
	}
	sum := md5.Sum([]byte(c.banner + secret))
	_, err := c.cmd("APOP %s %s", user, hex.EncodeToString(sum[:]))
	return err
}

// Stat returns the drop listing: message count and total size in
// octets.
func (c *Client) Stat() (count, size uint32, err error) {
	text, err := c.cmd("STAT")
	if err != nil {
		return 0, 0, err
	}
	if _, err := fmt.Sscanf(text, "%d %d", &count, &size); err != nil {
		return 0, 0, &Error{Text: "malformed STAT response: " + text}
	}
	return count, size, nil
}

// List returns the size of one message.
func (c *Client) List(n uint32) (*MessageInfo, error) {
	text, err := c.cmd("LIST %d", n)
	if err != nil {
		return nil, err
	}
	info := &MessageInfo{}
	if _, err := fmt.Sscanf(text, "%d %d", &info.Number, &info.Size); err != nil {
		return nil, &Error{Text: "malformed LIST response: " + text}
	}
	return info, nil
}

// ListAll returns the scan listing for every message.
func (c *Client) ListAll() ([]*MessageInfo, error) {
	if _, err := c.cmd("LIST"); err != nil {
		return nil, err
	}
	body, err := c.r.ReadDotBody()
	if err != nil {
		return nil, err
	}
	var infos []*MessageInfo
	for _, line := range strings.Split(strings.TrimRight(string(body), "\r\n"), "\r\n") {
		if line == "" {
			continue
		}
		info := &MessageInfo{}
		if _, err := fmt.Sscanf(line, "%d %d", &info.Number, &info.Size); err != nil {
			return nil, &Error{Text: "malformed LIST line: " + line}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Retr downloads one message and parses it.
func (c *Client) Retr(n uint32) (*message.Entity, error) {
	if _, err := c.cmd("RETR %d", n); err != nil {
		return nil, err
	}
	body, err := c.r.ReadDotBody()
	if err != nil {
		return nil, err
	}
	return message.Read(body)
}

// Top downloads the headers and the first lines of a message's body.
func (c *Client) Top(n, lines uint32) (*message.Entity, error) {
	if _, err := c.cmd("TOP %d %d", n, lines); err != nil {
		return nil, err
	}
	body, err := c.r.ReadDotBody()
	if err != nil {
		return nil, err
	}
	return message.Read(body)
}

// Uidl returns the unique id of one message.
func (c *Client) Uidl(n uint32) (*MessageInfo, error) {
	text, err := c.cmd("UIDL %d", n)
	if err != nil {
		return nil, err
	}
	info := &MessageInfo{}
	if _, err := fmt.Sscanf(text, "%d %s", &info.Number, &info.UID); err != nil {
		return nil, &Error{Text: "malformed UIDL response: " + text}
	}
	return info, nil
}

// UidlAll returns unique ids for every message.
func (c *Client) UidlAll() ([]*MessageInfo, error) {
	if _, err := c.cmd("UIDL"); err != nil {
		return nil, err
	}
	body, err := c.r.ReadDotBody()
	if err != nil {
		return nil, err
	}
	var infos []*MessageInfo
	for _, line := range strings.Split(strings.TrimRight(string(body), "\r\n"), "\r\n") {
		if line == "" {
			continue
		}
		info := &MessageInfo{}
		if _, err := fmt.Sscanf(line, "%d %s", &info.Number, &info.UID); err != nil {
			return nil, &Error{Text: "malformed UIDL line: " + line}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Dele marks a message for deletion at QUIT.
func (c *Client) Dele(n uint32) error {
	_, err := c.cmd("DELE %d", n)
	return err
}

// Noop pings the server.
func (c *Client) Noop() error {
	_, err := c.cmd("NOOP")
	return err
}

// Rset unmarks all messages marked for deletion.
func (c *Client) Rset() error {
	_, err := c.cmd("RSET")
	return err
}

// Quit enters the UPDATE state, committing deletions, and closes the
// connection.
func (c *Client) Quit() error {
	_, err := c.cmd("QUIT")
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without QUIT; deletions are discarded
// by the server.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) cmd(format string, args ...interface{}) (string, error) {
	line := fmt.Sprintf(format, args...)
	level.Debug(c.logger).Log("dir", "send", "line", redact(line))
	if _, err := c.bw.WriteString(line + "\r\n"); err != nil {
		return "", err
	}
	if err := c.bw.Flush(); err != nil {
		return "", err
	}
	return c.readStatus()
}

func (c *Client) readStatus() (string, error) {
	ok, text, err := c.r.ReadPOPLine()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &Error{Text: text}
	}
	return text, nil
}

// redact hides PASS arguments from the debug log.
func redact(line string) string {
	if strings.HasPrefix(line, "PASS ") {
		return "PASS <redacted>"
	}
	return line
}