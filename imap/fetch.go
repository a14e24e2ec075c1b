package imap

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/mailhound/go-mailproto/internal/wire"
	"github.com/mailhound/go-mailproto/message"
)

// internalDateLayout is the INTERNALDATE format of RFC 3501.
const internalDateLayout = "_2-Jan-2006 15:04:05 -0700"

// An Address is one RFC 3501 envelope address.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

func (a *Address) String() string {
	addr := a.Mailbox + "@" + a.Host
	if a.Name == "" {
		return addr
	}
	return a.Name + " <" + addr + ">"
}

// An Envelope is a message's ENVELOPE fetch item.
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []*Address
	Sender    []*Address
	ReplyTo   []*Address
	To        []*Address
	Cc        []*Address
	Bcc       []*Address
	InReplyTo string
	MessageID string
}

// A Message is the accumulated FETCH data of one message, plus the
// MIME tree when a full body was fetched.
type Message struct {
	SeqNum       uint32
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Size         uint32
	Envelope     *Envelope

	// Entity is the parsed MIME tree when BODY[] or RFC822 was
	// fetched and parsed cleanly.
	Entity *message.Entity

	// BodySections maps fetch item names (BODY[], BODY[1], ...) to
	// their raw bytes.
	BodySections map[string][]byte

	flagsSet bool
}

// HasFlag reports whether the message carries the given flag.
func (msg *Message) HasFlag(flag string) bool {
	for _, f := range msg.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Subject returns the message subject from the envelope or the
// parsed body, decoded.
func (msg *Message) Subject() string {
	if msg.Envelope != nil {
		return msg.Envelope.Subject
	}
	if msg.Entity != nil {
		return msg.Entity.Header.Subject()
	}
	return ""
}

// From returns the first sender address as text.
func (msg *Message) From() string {
	if msg.Envelope != nil && len(msg.Envelope.From) > 0 {
		return msg.Envelope.From[0].String()
	}
	if msg.Entity != nil {
		return msg.Entity.Header.Text("From")
	}
	return ""
}

// To returns the recipient addresses as text.
func (msg *Message) To() []string {
	if msg.Envelope != nil {
		l := make([]string, len(msg.Envelope.To))
		for i, a := range msg.Envelope.To {
			l[i] = a.String()
		}
		return l
	}
	if msg.Entity != nil {
		if v := msg.Entity.Header.Text("To"); v != "" {
			return []string{v}
		}
	}
	return nil
}

// parseFetchResponse parses "* <num> FETCH (<items>)".
func parseFetchResponse(num uint32, u *wire.Unit, rest string) (*Message, error) {
	r := newFieldReader(u, rest)
	f, err := r.readField()
	if err != nil {
		return nil, err
	}
	items, ok := f.([]interface{})
	if !ok {
		return nil, newParseError("FETCH response without item list")
	}

	msg := &Message{SeqNum: num}
	for i := 0; i+1 < len(items); i += 2 {
		name, err := parseString(items[i])
		if err != nil {
			return nil, err
		}
		name = strings.ToUpper(name)
		v := items[i+1]

		switch {
		case name == "UID":
			if msg.UID, err = parseNumber(v); err != nil {
				return nil, err
			}
		case name == "FLAGS":
			if msg.Flags, err = parseStringList(v); err != nil {
				return nil, err
			}
			msg.flagsSet = true
		case name == "INTERNALDATE":
			s, err := parseString(v)
			if err != nil {
				return nil, err
			}
			if t, err := time.Parse(internalDateLayout, s); err == nil {
				msg.InternalDate = t
			}
		case name == "RFC822.SIZE":
			if msg.Size, err = parseNumber(v); err != nil {
				return nil, err
			}
		case name == "ENVELOPE":
			env, err := parseEnvelope(v)
			if err != nil {
				return nil, err
			}
			msg.Envelope = env
		case name == "MODSEQ":
			// (modseq) list; folded into nothing for now.
		case name == "BODYSTRUCTURE" || name == "BODY":
			// Structure-only item; the raw body items below carry data.
		case name == "RFC822" || strings.HasPrefix(name, "BODY["):
			var b []byte
			switch v := v.(type) {
			case nil:
			case []byte:
				b = v
			case string:
				b = []byte(v)
			default:
				return nil, newParseError("body section is not a string")
			}
			if msg.BodySections == nil {
				msg.BodySections = make(map[string][]byte)
			}
			msg.BodySections[name] = b
			if name == "RFC822" || strings.HasPrefix(name, "BODY[]") {
				if e, err := message.Read(b); err == nil {
					msg.Entity = e
				}
			}
		}
	}
	return msg, nil
}

func parseEnvelope(f interface{}) (*Envelope, error) {
	fields, ok := f.([]interface{})
	if !ok {
		return nil, newParseError("ENVELOPE is not a list")
	}
	if len(fields) < 10 {
		return nil, newParseError("ENVELOPE with too few fields")
	}

	env := &Envelope{}
	if s, err := parseString(fields[0]); err == nil {
		if t, err := mail.ParseDate(s); err == nil {
			env.Date = t
		}
	}
	if s, err := parseString(fields[1]); err == nil {
		env.Subject = message.DecodeHeader(s)
	}
	addrs := []*[]*Address{&env.From, &env.Sender, &env.ReplyTo, &env.To, &env.Cc, &env.Bcc}
	for i, dst := range addrs {
		l, err := parseAddressList(fields[2+i])
		if err != nil {
			return nil, err
		}
		*dst = l
	}
	if s, err := parseString(fields[8]); err == nil {
		env.InReplyTo = s
	}
	if s, err := parseString(fields[9]); err == nil {
		env.MessageID = s
	}
	return env, nil
}

func parseAddressList(f interface{}) ([]*Address, error) {
	if f == nil {
		return nil, nil
	}
	fields, ok := f.([]interface{})
	if !ok {
		return nil, newParseError("address list is not a list")
	}
	var addrs []*Address
	for _, af := range fields {
		a, ok := af.([]interface{})
		if !ok || len(a) < 4 {
			return nil, newParseError("malformed envelope address")
		}
		addr := &Address{}
		if s, err := parseString(a[0]); err == nil {
			addr.Name = message.DecodeHeader(s)
		}
		if s, err := parseString(a[2]); err == nil {
			addr.Mailbox = s
		}
		if s, err := parseString(a[3]); err == nil {
			addr.Host = s
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// fetchParser accumulates the untagged FETCH responses of a FETCH,
// UID FETCH or STORE command.
type fetchParser struct {
	genericParser
	messages []*Message
}

func (p *fetchParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return hasNum && name == "FETCH"
}

func (p *fetchParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	msg, err := parseFetchResponse(num, u, rest)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// FetchCommand is a FETCH or STORE command.
type FetchCommand struct {
	Command
	p *fetchParser
}

// Wait blocks and returns the fetched messages in arrival order.
func (cmd *FetchCommand) Wait() ([]*Message, error) {
	err := cmd.Command.Wait()
	return cmd.p.messages, err
}

func (c *Client) fetchCmd(name, line string) *FetchCommand {
	p := &fetchParser{}
	if c.Selected() == nil {
		t := c.newTask(name, p, nil)
		c.resolveEarly(t, ErrNoMailboxSelected)
		return &FetchCommand{Command: Command{t: t}, p: p}
	}
	t := c.newTask(name, p, [][]byte{[]byte(line)})
	c.submit(t)
	return &FetchCommand{Command: Command{t: t}, p: p}
}

// fetchItems normalizes an item spec: multiple items get a
// parenthesized list, a single item goes bare.
func fetchItems(items string) string {
	items = strings.TrimSpace(items)
	if items == "" {
		return "(UID FLAGS RFC822.SIZE ENVELOPE)"
	}
	if strings.HasPrefix(items, "(") || !strings.Contains(items, " ") {
		return items
	}
	return "(" + items + ")"
}

// Fetch retrieves data items for a sequence set. A mailbox must be
// selected. Empty items default to UID, FLAGS, RFC822.SIZE and
// ENVELOPE.
func (c *Client) Fetch(seq SeqSet, items string) *FetchCommand {
	return c.fetchCmd("FETCH", fmt.Sprintf("FETCH %s %s", seq, fetchItems(items)))
}

// UIDFetch is Fetch with a UID set.
func (c *Client) UIDFetch(uids SeqSet, items string) *FetchCommand {
	return c.fetchCmd("UID FETCH", fmt.Sprintf("UID FETCH %s %s", uids, fetchItems(items)))
}

// FetchMessage retrieves one message by sequence number.
func (c *Client) FetchMessage(seqNum uint32, items string) (*Message, error) {
	msgs, err := c.Fetch(SeqNum(seqNum), items).Wait()
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, newParseError("server returned no FETCH data")
	}
	return msgs[0], nil
}

// FetchRecent retrieves the highest count sequence numbers of the
// selected mailbox.
func (c *Client) FetchRecent(count uint32, items string) *FetchCommand {
	mbox := c.Selected()
	if mbox == nil {
		p := &fetchParser{}
		t := c.newTask("FETCH", p, nil)
		c.resolveEarly(t, ErrNoMailboxSelected)
		return &FetchCommand{Command: Command{t: t}, p: p}
	}
	if mbox.Exists == 0 {
		p := &fetchParser{}
		t := c.newTask("FETCH", p, nil)
		c.resolveEarly(t, nil)
		return &FetchCommand{Command: Command{t: t}, p: p}
	}
	start := uint32(1)
	if count < mbox.Exists {
		start = mbox.Exists - count + 1
	}
	return c.Fetch(SeqRange(start, mbox.Exists), items)
}
