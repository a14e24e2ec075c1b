package imap

import (
	"fmt"
	"strings"
	"time"
)

// Append uploads a message to a mailbox. The body travels as a
// literal after the server's continuation request; on servers with
// UIDPLUS the returned status carries an APPENDUID hint.
func (c *Client) Append(mbox *Mailbox, flags []string, date time.Time, body []byte) *GenericCommand {
	var sb strings.Builder
	fmt.Fprintf(&sb, "APPEND %s", encodeMailbox(mbox.Path))
	if len(flags) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(flags, " "))
	}
	if !date.IsZero() {
		fmt.Fprintf(&sb, " %s", quoteString(date.Format(internalDateLayout)))
	}
	fmt.Fprintf(&sb, " {%d}", len(body))

	return c.generic("APPEND", []byte(sb.String()), body)
}
