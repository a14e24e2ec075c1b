package imap

import (
	"strings"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// selectParser consumes the untagged responses of SELECT and
// EXAMINE: EXISTS, RECENT, FLAGS and the OK lines carrying
// UIDVALIDITY, UIDNEXT, UNSEEN, PERMANENTFLAGS and HIGHESTMODSEQ.
type selectParser struct {
	genericParser
	c        *Client
	mbox     *Mailbox
	examined bool
}

func (p *selectParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	if hasNum {
		return name == "EXISTS" || name == "RECENT"
	}
	return name == "FLAGS"
}

func (p *selectParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	switch name {
	case "EXISTS":
		p.mbox.Exists = num
	case "RECENT":
		p.mbox.Recent = num
	case "FLAGS":
		r := newFieldReader(u, rest)
		f, err := r.readField()
		if err != nil {
			return err
		}
		flags, err := parseStringList(f)
		if err != nil {
			return err
		}
		p.mbox.Flags = flags
	}
	return nil
}

func (p *selectParser) parseUntaggedStatus(status *StatusResponse) bool {
	args := status.CodeArgs
	switch status.Code {
	case CodeUIDValidity:
		if len(args) > 0 {
			p.mbox.UIDValidity, _ = parseNumber(args[0])
		}
	case CodeUIDNext:
		if len(args) > 0 {
			p.mbox.UIDNext, _ = parseNumber(args[0])
		}
	case CodeUnseen:
		if len(args) > 0 {
			p.mbox.Unseen, _ = parseNumber(args[0])
		}
	case CodeHighestModSeq:
		if len(args) > 0 {
			p.mbox.HighestModSeq, _ = parseNumber64(args[0])
		}
	case CodePermanentFlags:
		p.mbox.PermanentFlags = args
	default:
		return false
	}
	return true
}

func (p *selectParser) finish(status *StatusResponse) error {
	if err := p.genericParser.finish(status); err != nil {
		return err
	}
	if status.Type != StatusOK {
		return nil
	}
	if p.examined {
		p.mbox.State = Examined
		p.mbox.ReadOnly = true
	} else {
		p.mbox.State = Selected
		p.mbox.ReadOnly = status.Code == CodeReadOnly
	}
	p.c.setSelected(p.mbox)
	return nil
}

// SelectCommand is a SELECT or EXAMINE command.
type SelectCommand struct {
	Command
	p *selectParser
}

// Wait blocks and returns the mailbox with its selection counts.
func (cmd *SelectCommand) Wait() (*Mailbox, error) {
	if err := cmd.Command.Wait(); err != nil {
		return nil, err
	}
	return cmd.p.mbox, nil
}

func (c *Client) selectCmd(verb string, mbox *Mailbox, examined bool) *SelectCommand {
	p := &selectParser{c: c, mbox: mbox, examined: examined}
	line := verb + " " + encodeMailbox(mbox.Path)
	t := c.newTask(verb, p, [][]byte{[]byte(line)})
	c.submit(t)
	return &SelectCommand{Command: Command{t: t}, p: p}
}

// Select opens a mailbox read-write.
func (c *Client) Select(mbox *Mailbox) *SelectCommand {
	return c.selectCmd("SELECT", mbox, false)
}

// Examine opens a mailbox read-only.
func (c *Client) Examine(mbox *Mailbox) *SelectCommand {
	return c.selectCmd("EXAMINE", mbox, true)
}

// SelectPath opens the mailbox with the given path. When the
// hierarchy delimiter is not known yet it is learned first with a
// `LIST "" ""` round-trip, so the mailbox's Name can be derived.
func (c *Client) SelectPath(path string) (*Mailbox, error) {
	if c.PathSeparator() == "" {
		if err := c.learnPathSeparator(); err != nil {
			return nil, err
		}
	}
	return c.Select(newMailbox(path, c.PathSeparator())).Wait()
}

// SelectInbox opens INBOX.
func (c *Client) SelectInbox() (*Mailbox, error) {
	return c.Select(newMailbox("INBOX", "")).Wait()
}

// closeParser clears the selection when the server acknowledges
// CLOSE or UNSELECT.
type closeParser struct {
	genericParser
	c *Client
}

func (p *closeParser) finish(status *StatusResponse) error {
	if err := p.genericParser.finish(status); err != nil {
		return err
	}
	if status.Type == StatusOK {
		if mbox := p.c.Selected(); mbox != nil {
			mbox.State = Unselected
		}
		p.c.setSelected(nil)
	}
	return nil
}

// CloseMailbox closes the selected mailbox, expunging messages
// marked \Deleted (RFC 3501 section 6.4.2).
func (c *Client) CloseMailbox() *GenericCommand {
	p := &closeParser{c: c}
	t := c.newTask("CLOSE", p, [][]byte{[]byte("CLOSE")})
	c.submit(t)
	return &GenericCommand{Command: Command{t: t}, p: &p.genericParser}
}

// Unselect closes the selected mailbox without expunging (RFC 3691).
// The server must advertise UNSELECT.
func (c *Client) Unselect() *GenericCommand {
	p := &closeParser{c: c}
	t := c.newTask("UNSELECT", p, [][]byte{[]byte("UNSELECT")})
	c.submit(t)
	return &GenericCommand{Command: Command{t: t}, p: &p.genericParser}
}

// statusParser consumes "* STATUS name (items)".
type statusParser struct {
	genericParser
	mbox *Mailbox
}

func (p *statusParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return !hasNum && name == "STATUS"
}

func (p *statusParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	r := newFieldReader(u, rest)
	fields, err := r.readFields()
	if err != nil {
		return err
	}
	if len(fields) < 2 {
		return newParseError("STATUS response with too few fields")
	}
	items, ok := fields[len(fields)-1].([]interface{})
	if !ok {
		return newParseError("STATUS response without item list")
	}
	for i := 0; i+1 < len(items); i += 2 {
		name, err := parseString(items[i])
		if err != nil {
			return err
		}
		switch strings.ToUpper(name) {
		case "MESSAGES":
			p.mbox.Exists, _ = parseNumber(items[i+1])
		case "RECENT":
			p.mbox.Recent, _ = parseNumber(items[i+1])
		case "UIDNEXT":
			p.mbox.UIDNext, _ = parseNumber(items[i+1])
		case "UIDVALIDITY":
			p.mbox.UIDValidity, _ = parseNumber(items[i+1])
		case "UNSEEN":
			p.mbox.Unseen, _ = parseNumber(items[i+1])
		case "HIGHESTMODSEQ":
			p.mbox.HighestModSeq, _ = parseNumber64(items[i+1])
		}
	}
	return nil
}

// StatusCommand is a STATUS command.
type StatusCommand struct {
	Command
	p *statusParser
}

// Wait blocks and returns the mailbox with refreshed counts.
func (cmd *StatusCommand) Wait() (*Mailbox, error) {
	if err := cmd.Command.Wait(); err != nil {
		return nil, err
	}
	return cmd.p.mbox, nil
}

// Status queries mailbox counts without changing the selection. With
// no items, all standard ones are requested.
func (c *Client) Status(mbox *Mailbox, items ...string) *StatusCommand {
	if len(items) == 0 {
		items = []string{"MESSAGES", "RECENT", "UIDNEXT", "UIDVALIDITY", "UNSEEN"}
	}
	line := "STATUS " + encodeMailbox(mbox.Path) + " (" + strings.Join(items, " ") + ")"
	p := &statusParser{mbox: mbox}
	t := c.newTask("STATUS", p, [][]byte{[]byte(line)})
	c.submit(t)
	return &StatusCommand{Command: Command{t: t}, p: p}
}
