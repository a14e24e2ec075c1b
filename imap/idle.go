package imap

// IdleCommand is a running IDLE command (RFC 2177). The server
// pushes unsolicited state while it runs; updates land in the
// selected mailbox and on the event bus. No other command may be
// submitted until Done.
//
// Servers may drop connections idling longer than 30 minutes; callers
// should restart the cycle before then (29 minutes is customary).
type IdleCommand struct {
	Command
	c *Client
}

// Done ends the IDLE by writing the DONE line. It does not wait for
// the server's tagged acknowledgement; use Wait for that.
func (cmd *IdleCommand) Done() error {
	return cmd.c.writeLine([]byte("DONE"), nil)
}

// Idle puts the session into IDLE. It blocks until the server's
// continuation acknowledges the command, then returns while
// unsolicited updates stream in. A mailbox must be selected.
func (c *Client) Idle() (*IdleCommand, error) {
	if c.Selected() == nil {
		return nil, ErrNoMailboxSelected
	}

	p := &genericParser{}
	t := c.newTask("IDLE", p, [][]byte{[]byte("IDLE")})
	t.idle = true
	t.idleReady = make(chan struct{})
	c.submit(t)

	cmd := &IdleCommand{Command: Command{t: t}, c: c}
	select {
	case <-t.idleReady:
		return cmd, nil
	case <-t.done:
		if t.err != nil {
			return nil, t.err
		}
		return nil, ErrContinuationAborted
	}
}
