package imap

import (
	"fmt"
	"strings"
)

// Store modifies message flags. The untagged FETCH responses carrying
// the new flag sets are collected unless silent is set (.SILENT
// suffix). A mailbox must be selected.
func (c *Client) Store(seq SeqSet, action StoreAction, flags []string, silent bool) *FetchCommand {
	item := action.item()
	if silent {
		item += ".SILENT"
	}
	line := fmt.Sprintf("STORE %s %s (%s)", seq, item, strings.Join(flags, " "))
	return c.fetchCmd("STORE", line)
}

// MarkSeen adds \Seen to the messages in seq.
func (c *Client) MarkSeen(seq SeqSet) *FetchCommand {
	return c.Store(seq, AddFlags, []string{SeenFlag}, false)
}

// MarkUnseen removes \Seen from the messages in seq.
func (c *Client) MarkUnseen(seq SeqSet) *FetchCommand {
	return c.Store(seq, RemoveFlags, []string{SeenFlag}, false)
}

// MarkFlagged adds \Flagged to the messages in seq.
func (c *Client) MarkFlagged(seq SeqSet) *FetchCommand {
	return c.Store(seq, AddFlags, []string{FlaggedFlag}, false)
}

// MarkUnflagged removes \Flagged from the messages in seq.
func (c *Client) MarkUnflagged(seq SeqSet) *FetchCommand {
	return c.Store(seq, RemoveFlags, []string{FlaggedFlag}, false)
}

// MarkDeleted adds \Deleted to the messages in seq.
func (c *Client) MarkDeleted(seq SeqSet) *FetchCommand {
	return c.Store(seq, AddFlags, []string{DeletedFlag}, false)
}

// MarkUndeleted removes \Deleted from the messages in seq.
func (c *Client) MarkUndeleted(seq SeqSet) *FetchCommand {
	return c.Store(seq, RemoveFlags, []string{DeletedFlag}, false)
}

// Copy copies messages to the target mailbox. On servers with
// UIDPLUS the returned status carries a COPYUID hint. A mailbox must
// be selected.
func (c *Client) Copy(seq SeqSet, target *Mailbox) *GenericCommand {
	if c.Selected() == nil {
		p := &genericParser{}
		t := c.newTask("COPY", p, nil)
		c.resolveEarly(t, ErrNoMailboxSelected)
		return &GenericCommand{Command: Command{t: t}, p: p}
	}
	line := fmt.Sprintf("COPY %s %s", seq, encodeMailbox(target.Path))
	return c.generic("COPY", []byte(line))
}

// Move moves messages to the target mailbox. Servers advertising
// MOVE (RFC 6851) get the native command; otherwise the sequence is
// emulated with COPY, STORE +FLAGS.SILENT (\Deleted) and EXPUNGE.
// Move blocks until the exchange completes.
func (c *Client) Move(seq SeqSet, target *Mailbox) (*StatusResponse, error) {
	if c.Selected() == nil {
		return nil, ErrNoMailboxSelected
	}
	if c.ServerInfo().Caps.Has("MOVE") {
		line := fmt.Sprintf("MOVE %s %s", seq, encodeMailbox(target.Path))
		return c.generic("MOVE", []byte(line)).Wait()
	}

	status, err := c.Copy(seq, target).Wait()
	if err != nil {
		return status, err
	}
	if _, err := c.Store(seq, AddFlags, []string{DeletedFlag}, true).Wait(); err != nil {
		return nil, err
	}
	return c.Expunge().Wait()
}

// Expunge permanently removes messages marked \Deleted. The untagged
// EXPUNGE responses arrive as ExpungeEvents on the bus.
func (c *Client) Expunge() *GenericCommand {
	if c.Selected() == nil {
		p := &genericParser{}
		t := c.newTask("EXPUNGE", p, nil)
		c.resolveEarly(t, ErrNoMailboxSelected)
		return &GenericCommand{Command: Command{t: t}, p: p}
	}
	return c.generic("EXPUNGE")
}
