package imap

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// Options configures a Client.
type Options struct {
	// TLSConfig is used by DialTLS and StartTLS.
	TLSConfig *tls.Config

	// Logger receives structured protocol diagnostics. Defaults to a
	// nop logger.
	Logger kitlog.Logger

	// Bus receives unsolicited server events. A private bus is
	// created when nil.
	Bus *EventBus

	// Raw ingress and egress data is mirrored to DebugWriter, if any.
	// LOGIN passwords are redacted on this path.
	DebugWriter io.Writer
}

// Client is an IMAP client. All commands on one client are
// serialized: one is in flight, later submissions queue behind it.
type Client struct {
	conn    net.Conn
	options Options
	logger  kitlog.Logger
	bus     *EventBus

	br *bufio.Reader
	r  *wire.Reader

	wmu sync.Mutex // wire writes
	bw  *bufio.Writer

	mu       sync.Mutex // scheduler state
	tagSeq   uint64
	current  *task
	queue    []*task
	closed   bool
	closeErr error

	greeted     bool
	greetingCh  chan struct{}
	expectClose bool

	info     ServerInfo
	selected *Mailbox
}

// New binds a client to an established connection and starts its
// reader. Callers normally use Dial or DialTLS instead.
func New(conn net.Conn, options *Options) *Client {
	if options == nil {
		options = &Options{}
	}
	logger := options.Logger
	if logger == nil {
		logger = kitlog.NewNopLogger()
	}
	bus := options.Bus
	if bus == nil {
		bus = NewEventBus()
	}

	var r io.Reader = conn
	if options.DebugWriter != nil {
		r = io.TeeReader(conn, options.DebugWriter)
	}

	c := &Client{
		conn:       conn,
		options:    *options,
		logger:     logger,
		bus:        bus,
		br:         bufio.NewReader(r),
		bw:         bufio.NewWriter(conn),
		greetingCh: make(chan struct{}),
	}
	c.r = wire.NewReader(c.br)
	c.info.Caps = make(CapSet)
	if host, port, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		c.info.Host, c.info.Port = host, port
	}

	go c.read()
	return c
}

// Dial connects to an IMAP server over plaintext TCP and waits for
// its greeting.
func Dial(addr string, options *Options) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	c := New(conn, options)
	return c, c.waitGreeting()
}

// DialTLS connects with implicit TLS and waits for the greeting.
func DialTLS(addr string, options *Options) (*Client, error) {
	var cfg *tls.Config
	if options != nil {
		cfg = options.TLSConfig
	}
	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	c := New(conn, options)
	c.info.TLS = true
	return c, c.waitGreeting()
}

func (c *Client) waitGreeting() error {
	<-c.greetingCh
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.closeErr
	}
	return nil
}

// Bus returns the client's event bus.
func (c *Client) Bus() *EventBus {
	return c.bus
}

// ServerInfo returns a snapshot of what is known about the server.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	caps := make(CapSet, len(info.Caps))
	for k := range info.Caps {
		caps[k] = struct{}{}
	}
	info.Caps = caps
	return info
}

// Selected returns the selected mailbox, or nil.
func (c *Client) Selected() *Mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Client) setSelected(m *Mailbox) {
	c.mu.Lock()
	c.selected = m
	c.mu.Unlock()
}

// setPathSeparator records the hierarchy delimiter learned from the
// first LIST response.
func (c *Client) setPathSeparator(d string) {
	c.mu.Lock()
	if c.info.PathSeparator == "" && d != "" {
		c.info.PathSeparator = d
	}
	c.mu.Unlock()
}

// PathSeparator returns the server's hierarchy delimiter, or "" when
// it has not been learned yet.
func (c *Client) PathSeparator() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.PathSeparator
}

// Close shuts the connection down immediately. Prefer Logout for a
// clean end of session.
func (c *Client) Close() error {
	c.mu.Lock()
	c.expectClose = true
	c.mu.Unlock()
	return c.conn.Close()
}

// task is one scheduled command: its wire parts, its parser and its
// completion state.
type task struct {
	c    *Client
	name string
	tag  string

	parts [][]byte
	next  int

	idle      bool
	idling    bool
	idleReady chan struct{}

	// cont computes continuation parts dynamically (AUTHENTICATE).
	// Returning a nil part aborts the exchange.
	cont func(text string) ([]byte, error)

	startTLS bool

	parser parser

	// redacted replaces the first part on the debug mirror.
	redacted []byte

	done     chan struct{}
	resolved bool
	status   *StatusResponse
	err      error
}

// Command is a submitted command. Wait blocks until its tagged
// response arrives; NO and BAD resolve to an *Error.
type Command struct {
	t *task
}

// Wait blocks until the command completes.
func (cmd *Command) Wait() error {
	<-cmd.t.done
	return cmd.t.err
}

// Cancel withdraws interest in the command. The command is not
// retracted on the wire; its tagged response is dropped on arrival.
func (cmd *Command) Cancel() {
	t := cmd.t
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveLocked(t, nil, ErrCancelled)
}

func (c *Client) newTask(name string, p parser, parts [][]byte) *task {
	return &task{
		c:      c,
		name:   name,
		parts:  parts,
		parser: p,
		done:   make(chan struct{}),
	}
}

// submit assigns a tag and either writes the command immediately or
// queues it behind the in-flight one.
func (c *Client) submit(t *task) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		if err == nil {
			err = ErrConnectionLost
		}
		c.mu.Unlock()
		c.resolveEarly(t, err)
		return
	}
	t.tag = fmt.Sprintf("a%d", c.tagSeq)
	c.tagSeq++
	if c.current != nil {
		c.queue = append(c.queue, t)
		c.mu.Unlock()
		return
	}
	c.current = t
	c.mu.Unlock()
	c.writeFirstPart(t)
}

func (c *Client) writeFirstPart(t *task) {
	line := make([]byte, 0, len(t.tag)+1+len(t.parts[0]))
	line = append(line, t.tag...)
	line = append(line, ' ')
	line = append(line, t.parts[0]...)
	t.next = 1

	debug := line
	if t.redacted != nil {
		debug = append([]byte(t.tag+" "), t.redacted...)
	}
	if err := c.writeLine(line, debug); err != nil {
		c.teardown(err)
	}
}

// writeLine writes b and CRLF, mirroring debug (or b) to the debug
// writer.
func (c *Client) writeLine(b, debug []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.options.DebugWriter != nil {
		if debug == nil {
			debug = b
		}
		c.options.DebugWriter.Write(append(append([]byte(nil), debug...), '\r', '\n'))
	}
	if _, err := c.bw.Write(b); err != nil {
		return err
	}
	if _, err := c.bw.WriteString("\r\n"); err != nil {
		return err
	}
	return c.bw.Flush()
}

// read is the client's reader goroutine. Every response unit is
// dispatched from here; parser and event callbacks run on this
// goroutine.
func (c *Client) read() {
	for {
		u, err := c.r.ReadUnit()
		if err != nil {
			c.teardown(err)
			return
		}
		if err := c.handleUnit(u); err != nil {
			c.teardown(err)
			return
		}
	}
}

func (c *Client) handleUnit(u *wire.Unit) error {
	head := u.Head
	switch {
	case head == "+" || strings.HasPrefix(head, "+ "):
		text := strings.TrimPrefix(strings.TrimPrefix(head, "+"), " ")
		return c.handleContinuation(text)
	case strings.HasPrefix(head, "* "):
		return c.handleUntagged(u)
	default:
		return c.handleTagged(u)
	}
}

func (c *Client) handleContinuation(text string) error {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()
	if t == nil {
		level.Debug(c.logger).Log("msg", "dropping continuation request without in-flight command")
		return nil
	}

	if t.idle && !t.idling {
		t.idling = true
		close(t.idleReady)
		return nil
	}

	var part []byte
	if t.cont != nil {
		p, err := t.cont(text)
		if err != nil || p == nil {
			c.abortContinuation(t)
			return nil
		}
		part = p
	} else {
		if t.next >= len(t.parts) {
			c.abortContinuation(t)
			return nil
		}
		part = t.parts[t.next]
		t.next++
	}
	if err := c.writeLine(part, nil); err != nil {
		return err
	}
	return nil
}

// abortContinuation resolves the in-flight command with
// ErrContinuationAborted; its eventual tagged response is dropped.
func (c *Client) abortContinuation(t *task) {
	level.Debug(c.logger).Log("msg", "continuation aborted", "cmd", t.name)
	c.mu.Lock()
	c.resolveLocked(t, nil, ErrContinuationAborted)
	c.mu.Unlock()
}

func (c *Client) handleUntagged(u *wire.Unit) error {
	head := u.Head[2:]
	num, hasNum, name, rest := splitUntagged(head)

	switch name {
	case "OK", "NO", "BAD", "PREAUTH":
		status, err := parseStatusLine(StatusResponseType(name), rest)
		if err != nil {
			return err
		}
		c.applyStatusCode(status)

		c.mu.Lock()
		if !c.greeted {
			c.greeted = true
			c.info.Greeting = status.Text
			c.mu.Unlock()
			close(c.greetingCh)
			return nil
		}
		t := c.activeTask()
		c.mu.Unlock()

		if t != nil {
			if sp, ok := t.parser.(untaggedStatusParser); ok && sp.parseUntaggedStatus(status) {
				return nil
			}
		}
		level.Debug(c.logger).Log("msg", "unhandled untagged status", "type", name, "text", status.Text)
		return nil

	case "BYE":
		c.mu.Lock()
		t := c.activeTask()
		c.mu.Unlock()
		if t != nil {
			if lp, ok := t.parser.(*logoutParser); ok {
				lp.text = strings.TrimPrefix(rest, " ")
				c.mu.Lock()
				c.expectClose = true
				c.mu.Unlock()
				return nil
			}
		}
		return ErrByeReceived
	}

	c.mu.Lock()
	t := c.activeTask()
	c.mu.Unlock()
	if t != nil && t.parser.acceptsUntagged(num, hasNum, name) {
		return t.parser.parseUntagged(num, hasNum, name, rest, u)
	}
	return c.handleUnilateral(num, hasNum, name, rest, u)
}

// activeTask returns the in-flight task unless it has already been
// resolved (cancelled or aborted). Callers hold c.mu.
func (c *Client) activeTask() *task {
	if c.current == nil || c.current.resolved {
		return nil
	}
	return c.current
}

// handleUnilateral applies a server-initiated data response to the
// selected mailbox and raises it on the event bus.
func (c *Client) handleUnilateral(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	c.mu.Lock()
	mbox := c.selected
	c.mu.Unlock()

	switch name {
	case "EXISTS":
		if mbox != nil {
			mbox.Exists = num
		}
		c.bus.Publish(ExistsEvent{Count: num})
	case "RECENT":
		if mbox != nil {
			mbox.Recent = num
		}
		c.bus.Publish(RecentEvent{Count: num})
	case "EXPUNGE":
		if mbox != nil && mbox.Exists > 0 {
			mbox.Exists--
		}
		c.bus.Publish(ExpungeEvent{SeqNum: num})
	case "FETCH":
		msg, err := parseFetchResponse(num, u, rest)
		if err != nil {
			return err
		}
		c.bus.Publish(FetchEvent{Message: msg})
		if msg.flagsSet {
			c.bus.Publish(FlagsChangedEvent{SeqNum: msg.SeqNum, Flags: msg.Flags})
		}
	case "CAPABILITY":
		c.setCaps(strings.Fields(rest))
	default:
		level.Debug(c.logger).Log("msg", "dropping unilateral response", "name", name)
	}
	return nil
}

func (c *Client) handleTagged(u *wire.Unit) error {
	head := u.Head
	i := strings.IndexByte(head, ' ')
	if i < 0 {
		return newParseError("malformed tagged response: " + head)
	}
	tag, rest := head[:i], head[i+1:]
	typ := rest
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		typ, rest = rest[:j], rest[j+1:]
	} else {
		rest = ""
	}
	typ = strings.ToUpper(typ)
	switch StatusResponseType(typ) {
	case StatusOK, StatusNo, StatusBad:
	default:
		return newParseError("unknown tagged response condition: " + typ)
	}

	status, err := parseStatusLine(StatusResponseType(typ), rest)
	if err != nil {
		return err
	}
	c.applyStatusCode(status)

	c.mu.Lock()
	t := c.current
	if t == nil || t.tag != tag {
		c.mu.Unlock()
		level.Info(c.logger).Log("msg", "dropping response with unknown tag", "tag", tag)
		return nil
	}
	alreadyResolved := t.resolved
	t.resolved = true
	c.current = nil
	var next *task
	if len(c.queue) > 0 {
		next = c.queue[0]
		c.queue = c.queue[1:]
		c.current = next
	}
	c.mu.Unlock()

	var cmdErr error
	switch status.Type {
	case StatusNo, StatusBad:
		cmdErr = (*Error)(status)
	}

	// The transport upgrade must complete before the STARTTLS future
	// resolves and before anything else is written.
	if t.startTLS && cmdErr == nil {
		if err := c.upgradeTLS(); err != nil {
			return err
		}
	}

	if !alreadyResolved {
		// finish runs outside the scheduler lock: parsers may touch
		// client state through the locking accessors.
		if perr := t.parser.finish(status); perr != nil && cmdErr == nil {
			cmdErr = perr
		}
		t.status = status
		t.err = cmdErr
		close(t.done)
	}

	if next != nil {
		c.writeFirstPart(next)
	}
	return nil
}

// resolveLocked completes a task early, without a tagged response:
// cancellation, continuation abort or session teardown. Callers hold
// c.mu. The parser's finish hook does not run on this path.
func (c *Client) resolveLocked(t *task, status *StatusResponse, err error) {
	if t.resolved {
		return
	}
	t.resolved = true
	t.status = status
	t.err = err
	close(t.done)
}

func (c *Client) resolveEarly(t *task, err error) {
	c.mu.Lock()
	c.resolveLocked(t, nil, err)
	c.mu.Unlock()
}

// applyStatusCode folds response-code hints into session state.
func (c *Client) applyStatusCode(status *StatusResponse) {
	if status.Code == CodeCapability {
		c.setCaps(status.CodeArgs)
	}
}

func (c *Client) setCaps(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Caps = make(CapSet)
	for _, name := range names {
		c.info.Caps.add(name)
	}
}

// teardown ends the session: all in-flight and queued commands fail,
// the socket closes, and subscribers learn via ConnectionLostEvent.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	err := cause
	switch {
	case err == ErrByeReceived:
	case c.expectClose:
		err = nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		err = ErrConnectionLost
	}
	c.closeErr = err

	failWith := err
	if failWith == nil {
		failWith = ErrConnectionLost
	}
	tasks := c.queue
	if c.current != nil {
		tasks = append([]*task{c.current}, tasks...)
	}
	c.current = nil
	c.queue = nil
	for _, t := range tasks {
		c.resolveLocked(t, nil, failWith)
	}
	greeted := c.greeted
	c.greeted = true
	expected := c.expectClose
	c.mu.Unlock()

	if !greeted {
		close(c.greetingCh)
	}
	c.conn.Close()
	if !expected {
		level.Info(c.logger).Log("msg", "session ended", "err", err)
		c.bus.Publish(ConnectionLostEvent{Err: err})
	}
}

// upgradeTLS performs the STARTTLS transport upgrade: the buffered
// reader is drained, the connection wrapped, and the framer rebound.
// Prior capability state is invalidated.
func (c *Client) upgradeTLS() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	// Data buffered before the upgrade belongs to the cleartext
	// stream and must be replayed beneath the TLS client.
	var buf bytes.Buffer
	if n := c.br.Buffered(); n > 0 {
		if _, err := io.CopyN(&buf, c.br, int64(n)); err != nil {
			return err
		}
	}
	var cleartext net.Conn = c.conn
	if buf.Len() > 0 {
		cleartext = &prefixConn{Conn: c.conn, r: io.MultiReader(&buf, c.conn)}
	}

	tlsConn := tls.Client(cleartext, c.options.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	var r io.Reader = tlsConn
	if c.options.DebugWriter != nil {
		r = io.TeeReader(tlsConn, c.options.DebugWriter)
	}
	c.br = bufio.NewReader(r)
	c.r.Reset(c.br)
	c.bw = bufio.NewWriter(tlsConn)

	c.mu.Lock()
	c.info.TLS = true
	c.info.Caps = make(CapSet)
	c.mu.Unlock()
	return nil
}

type prefixConn struct {
	net.Conn
	r io.Reader
}

func (conn *prefixConn) Read(b []byte) (int, error) {
	return conn.r.Read(b)
}
