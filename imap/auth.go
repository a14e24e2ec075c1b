package imap

import (
	"encoding/base64"

	"github.com/emersion/go-sasl"
)

// Login sends a LOGIN command. The password never reaches the debug
// mirror.
func (c *Client) Login(username, password string) *CapabilityCommand {
	p := &capabilityParser{}
	line := "LOGIN " + encodeAString(username) + " " + encodeAString(password)
	t := c.newTask("LOGIN", p, [][]byte{[]byte(line)})
	t.redacted = []byte("LOGIN " + encodeAString(username) + " <redacted>")
	c.submit(t)
	return &CapabilityCommand{Command: Command{t: t}, c: c, p: p}
}

// Authenticate runs a SASL exchange (RFC 3501 section 6.2.2). Only
// mechanisms the server advertises under AUTH= should be used;
// sasl.NewPlainClient and sasl.NewLoginClient cover the common ones.
func (c *Client) Authenticate(client sasl.Client) *CapabilityCommand {
	p := &capabilityParser{}

	mech, ir, err := client.Start()
	if err != nil {
		t := c.newTask("AUTHENTICATE", p, nil)
		c.resolveEarly(t, err)
		return &CapabilityCommand{Command: Command{t: t}, c: c, p: p}
	}

	first := true
	cont := func(text string) ([]byte, error) {
		if first {
			first = false
			if ir != nil {
				return []byte(base64.StdEncoding.EncodeToString(ir)), nil
			}
		}
		challenge, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, err
		}
		resp, err := client.Next(challenge)
		if err != nil {
			return nil, err
		}
		return []byte(base64.StdEncoding.EncodeToString(resp)), nil
	}

	t := c.newTask("AUTHENTICATE", p, [][]byte{[]byte("AUTHENTICATE " + mech)})
	t.cont = cont
	c.submit(t)
	return &CapabilityCommand{Command: Command{t: t}, c: c, p: p}
}

// LogoutCommand is a LOGOUT command.
type LogoutCommand struct {
	Command
	c *Client
	p *logoutParser
}

// Wait blocks until the server's BYE and tagged OK arrive, then
// closes the connection. It returns the BYE text.
func (cmd *LogoutCommand) Wait() (string, error) {
	err := cmd.Command.Wait()
	cmd.c.conn.Close()
	return cmd.p.text, err
}

// Logout ends the session cleanly.
func (c *Client) Logout() *LogoutCommand {
	p := &logoutParser{}
	t := c.newTask("LOGOUT", p, [][]byte{[]byte("LOGOUT")})
	c.submit(t)
	return &LogoutCommand{Command: Command{t: t}, c: c, p: p}
}

// StartTLS upgrades the connection (RFC 3501 section 6.2.1). Unlike
// other commands it blocks until the handshake completes; prior
// capability state is invalidated and should be re-queried.
func (c *Client) StartTLS() error {
	p := &genericParser{}
	t := c.newTask("STARTTLS", p, [][]byte{[]byte("STARTTLS")})
	t.startTLS = true
	c.submit(t)
	return (&Command{t: t}).Wait()
}

// NoopCommand is a NOOP command; unsolicited state sent in its window
// lands in the selected mailbox and on the event bus.
type NoopCommand struct {
	Command
	c *Client
}

// Wait blocks and returns the selected mailbox with any counts the
// server pushed, or nil when nothing is selected.
func (cmd *NoopCommand) Wait() (*Mailbox, error) {
	err := cmd.Command.Wait()
	return cmd.c.Selected(), err
}

// Noop sends a NOOP command.
func (c *Client) Noop() *NoopCommand {
	p := &genericParser{}
	t := c.newTask("NOOP", p, [][]byte{[]byte("NOOP")})
	c.submit(t)
	return &NoopCommand{Command: Command{t: t}, c: c}
}
