package imap

import (
	"strings"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// capabilityParser consumes "* CAPABILITY ..." into a capability
// set.
type capabilityParser struct {
	genericParser
	caps []string
}

func (p *capabilityParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return !hasNum && name == "CAPABILITY"
}

func (p *capabilityParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	p.caps = append(p.caps, strings.Fields(rest)...)
	return nil
}

// CapabilityCommand is a CAPABILITY command; it also backs LOGIN and
// AUTHENTICATE, whose responses may carry the capability list.
type CapabilityCommand struct {
	Command
	c *Client
	p *capabilityParser
}

// Wait blocks and returns the advertised capability set.
func (cmd *CapabilityCommand) Wait() (CapSet, error) {
	if err := cmd.Command.Wait(); err != nil {
		return nil, err
	}
	if len(cmd.p.caps) > 0 {
		cmd.c.setCaps(cmd.p.caps)
	}
	return cmd.c.ServerInfo().Caps, nil
}

// Capability sends a CAPABILITY command.
func (c *Client) Capability() *CapabilityCommand {
	p := &capabilityParser{}
	t := c.newTask("CAPABILITY", p, [][]byte{[]byte("CAPABILITY")})
	c.submit(t)
	return &CapabilityCommand{Command: Command{t: t}, c: c, p: p}
}

// Enable sends an ENABLE command for the given capabilities (RFC
// 5161).
func (c *Client) Enable(caps ...string) *GenericCommand {
	text := "ENABLE " + strings.Join(caps, " ")
	return c.generic("ENABLE", []byte(text))
}
