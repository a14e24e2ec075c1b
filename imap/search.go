package imap

import (
	"strconv"
	"strings"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// searchParser consumes "* SEARCH id1 id2 ..." into an ordered id
// list.
type searchParser struct {
	genericParser
	ids []uint32
}

func (p *searchParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return !hasNum && name == "SEARCH"
}

func (p *searchParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	for _, f := range strings.Fields(rest) {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return newParseError("SEARCH response with non-numeric id: " + f)
		}
		p.ids = append(p.ids, uint32(n))
	}
	return nil
}

// SearchCommand is a SEARCH command.
type SearchCommand struct {
	Command
	p *searchParser
}

// Wait blocks and returns the matching ids in server order.
func (cmd *SearchCommand) Wait() ([]uint32, error) {
	err := cmd.Command.Wait()
	return cmd.p.ids, err
}

// Search runs a SEARCH with the given criteria; empty criteria
// default to UNSEEN. A mailbox must be selected.
func (c *Client) Search(criteria string) *SearchCommand {
	if criteria == "" {
		criteria = "UNSEEN"
	}
	p := &searchParser{}
	if c.Selected() == nil {
		t := c.newTask("SEARCH", p, nil)
		c.resolveEarly(t, ErrNoMailboxSelected)
		return &SearchCommand{Command: Command{t: t}, p: p}
	}
	t := c.newTask("SEARCH", p, [][]byte{[]byte("SEARCH " + criteria)})
	c.submit(t)
	return &SearchCommand{Command: Command{t: t}, p: p}
}
