package imap

import (
	"github.com/mailhound/go-mailproto/internal/wire"
)

// listParser consumes "* LIST (flags) "delim" name" lines (or LSUB
// for subscribed listings).
type listParser struct {
	genericParser
	name      string // LIST or LSUB
	mailboxes []*Mailbox
	delim     string
}

func (p *listParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return !hasNum && name == p.name
}

func (p *listParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	r := newFieldReader(u, rest)
	fields, err := r.readFields()
	if err != nil {
		return err
	}
	if len(fields) < 3 {
		return newParseError("LIST response with too few fields")
	}

	flags, err := parseStringList(fields[0])
	if err != nil {
		return err
	}
	delim := ""
	if fields[1] != nil {
		if delim, err = parseString(fields[1]); err != nil {
			return err
		}
	}
	path, err := parseString(fields[2])
	if err != nil {
		return err
	}

	mbox := newMailbox(path, delim)
	mbox.Flags = flags
	p.mailboxes = append(p.mailboxes, mbox)
	if p.delim == "" {
		p.delim = delim
	}
	return nil
}

// ListCommand is a LIST or LSUB command.
type ListCommand struct {
	Command
	c *Client
	p *listParser
}

// Wait blocks and returns the listed mailboxes.
func (cmd *ListCommand) Wait() ([]*Mailbox, error) {
	err := cmd.Command.Wait()
	if cmd.p.delim != "" {
		cmd.c.setPathSeparator(cmd.p.delim)
	}
	return cmd.p.mailboxes, err
}

func (c *Client) list(verb, path string, recursive bool) *ListCommand {
	pattern := "%"
	if recursive {
		pattern = "*"
	}
	ref := ""
	if path != "" {
		sep := c.PathSeparator()
		ref = path
		if sep != "" {
			pattern = path + sep + pattern
			ref = ""
		}
	}
	line := verb + " " + encodeMailbox(ref) + " " + encodeAString(pattern)

	p := &listParser{name: verb}
	t := c.newTask(verb, p, [][]byte{[]byte(line)})
	c.submit(t)
	return &ListCommand{Command: Command{t: t}, c: c, p: p}
}

// List sends a LIST command for the mailboxes below path (all of
// them when path is empty). With recursive set, the whole subtree is
// returned rather than one level. The hierarchy delimiter of the
// first response is recorded as the session's path separator.
func (c *Client) List(path string, recursive bool) *ListCommand {
	return c.list("LIST", path, recursive)
}

// Lsub sends an LSUB command, listing subscribed mailboxes.
func (c *Client) Lsub(path string, recursive bool) *ListCommand {
	return c.list("LSUB", path, recursive)
}

// learnPathSeparator issues the canonical `LIST "" ""` round-trip,
// which names no mailbox but reveals the hierarchy delimiter.
func (c *Client) learnPathSeparator() error {
	p := &listParser{name: "LIST"}
	t := c.newTask("LIST", p, [][]byte{[]byte(`LIST "" ""`)})
	c.submit(t)
	cmd := &ListCommand{Command: Command{t: t}, c: c, p: p}
	_, err := cmd.Wait()
	return err
}
