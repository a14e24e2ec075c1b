package imap

import (
	"fmt"
	"strings"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// A MetadataEntry is one METADATA item (RFC 5464). Mailbox is empty
// for server-global entries; Name is the entry path beginning with
// /private/ or /shared/; a nil Value unsets the entry.
type MetadataEntry struct {
	Mailbox string
	Name    string
	Value   []byte
}

// MetadataDepth selects how deep GETMETADATA descends below the
// requested entries.
type MetadataDepth int

const (
	DepthNone MetadataDepth = iota
	DepthDirectChildren
	DepthAllChildren
)

func (d MetadataDepth) String() string {
	switch d {
	case DepthNone:
		return "0"
	case DepthDirectChildren:
		return "1"
	case DepthAllChildren:
		return "infinity"
	}
	panic(fmt.Sprintf("imap: unknown metadata depth %d", int(d)))
}

// MetadataOptions refine a GETMETADATA command.
type MetadataOptions struct {
	// MaxSize caps the size of returned values; zero means no cap.
	MaxSize uint32
	Depth   MetadataDepth
}

// metadataParser consumes "* METADATA mailbox (entry value ...)".
type metadataParser struct {
	genericParser
	entries []MetadataEntry
}

func (p *metadataParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return !hasNum && name == "METADATA"
}

func (p *metadataParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	r := newFieldReader(u, rest)
	mboxField, err := r.readField()
	if err != nil {
		return err
	}
	mailbox, err := parseString(mboxField)
	if err != nil {
		return err
	}

	f, err := r.readField()
	if err != nil {
		return err
	}
	items, ok := f.([]interface{})
	if !ok {
		return newParseError("METADATA response without entry list")
	}
	for i := 0; i+1 < len(items); i += 2 {
		name, err := parseString(items[i])
		if err != nil {
			return err
		}
		entry := MetadataEntry{Mailbox: mailbox, Name: name}
		switch v := items[i+1].(type) {
		case nil:
		case string:
			entry.Value = []byte(v)
		case []byte:
			entry.Value = v
		default:
			return newParseError("METADATA value is not a string")
		}
		p.entries = append(p.entries, entry)
	}
	return nil
}

// MetadataCommand is a GETMETADATA command.
type MetadataCommand struct {
	Command
	p *metadataParser
}

// Wait blocks and returns the entries the server sent.
func (cmd *MetadataCommand) Wait() ([]MetadataEntry, error) {
	err := cmd.Command.Wait()
	return cmd.p.entries, err
}

// GetMetadata requests metadata entries for a mailbox ("" for
// server-global entries). The server must advertise METADATA.
func (c *Client) GetMetadata(mailbox string, entries []string, options *MetadataOptions) *MetadataCommand {
	var sb strings.Builder
	sb.WriteString("GETMETADATA " + encodeMailbox(mailbox))
	if options != nil && (options.MaxSize > 0 || options.Depth != DepthNone) {
		sb.WriteString(" (")
		sep := ""
		if options.MaxSize > 0 {
			fmt.Fprintf(&sb, "MAXSIZE %d", options.MaxSize)
			sep = " "
		}
		if options.Depth != DepthNone {
			fmt.Fprintf(&sb, "%sDEPTH %s", sep, options.Depth)
		}
		sb.WriteString(")")
	}
	sb.WriteString(" (")
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(quoteString(e))
	}
	sb.WriteString(")")

	p := &metadataParser{}
	t := c.newTask("GETMETADATA", p, [][]byte{[]byte(sb.String())})
	c.submit(t)
	return &MetadataCommand{Command: Command{t: t}, p: p}
}

// inlineMetadataValue reports whether a value can travel as a quoted
// string: short, no quotes, no line breaks. Everything else goes as a
// literal through the continuation protocol.
func inlineMetadataValue(v []byte) bool {
	if len(v) >= 80 {
		return false
	}
	for _, c := range v {
		if c == '"' || c == '\r' || c == '\n' || c == '\\' {
			return false
		}
	}
	return true
}

// SetMetadata sets one metadata entry; a nil value unsets it.
func (c *Client) SetMetadata(entry MetadataEntry) *GenericCommand {
	return c.SetMetadataEntries(entry.Mailbox, []MetadataEntry{entry})
}

// SetMetadataEntries sets several entries of one mailbox in a single
// SETMETADATA command.
func (c *Client) SetMetadataEntries(mailbox string, entries []MetadataEntry) *GenericCommand {
	parts := [][]byte{}
	cur := []byte("SETMETADATA " + encodeMailbox(mailbox) + " (")
	for i, e := range entries {
		if i > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, quoteString(e.Name)...)
		cur = append(cur, ' ')
		switch {
		case e.Value == nil:
			cur = append(cur, "NIL"...)
		case inlineMetadataValue(e.Value):
			cur = append(cur, quoteString(string(e.Value))...)
		default:
			cur = append(cur, fmt.Sprintf("{%d}", len(e.Value))...)
			parts = append(parts, cur)
			cur = append([]byte(nil), e.Value...)
		}
	}
	cur = append(cur, ')')
	parts = append(parts, cur)

	return c.generic("SETMETADATA", parts...)
}
