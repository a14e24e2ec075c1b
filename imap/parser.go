package imap

import (
	"strconv"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// parser consumes a command's untagged responses and its tagged
// completion. acceptsUntagged declares interest explicitly; declined
// units go to the unilateral path and the event bus.
type parser interface {
	acceptsUntagged(num uint32, hasNum bool, name string) bool
	parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error
	finish(status *StatusResponse) error
}

// untaggedStatusParser is implemented by parsers interested in
// untagged OK/NO/BAD responses (e.g. SELECT's UIDVALIDITY lines).
// parseUntaggedStatus reports whether the status was consumed.
type untaggedStatusParser interface {
	parseUntaggedStatus(status *StatusResponse) bool
}

// genericParser accepts nothing untagged and keeps the tagged status
// for response-code mining.
type genericParser struct {
	status StatusResponse
}

func (p *genericParser) acceptsUntagged(num uint32, hasNum bool, name string) bool {
	return false
}

func (p *genericParser) parseUntagged(num uint32, hasNum bool, name, rest string, u *wire.Unit) error {
	return nil
}

func (p *genericParser) finish(status *StatusResponse) error {
	p.status = *status
	return nil
}

// GenericCommand is a command whose result is its status response
// with any response-code hints (COPYUID, APPENDUID, ...).
type GenericCommand struct {
	Command
	p *genericParser
}

// Wait blocks and returns the tagged status response.
func (cmd *GenericCommand) Wait() (*StatusResponse, error) {
	err := cmd.Command.Wait()
	return &cmd.p.status, err
}

func (c *Client) generic(name string, parts ...[]byte) *GenericCommand {
	p := &genericParser{}
	if len(parts) == 0 {
		parts = [][]byte{[]byte(name)}
	}
	t := c.newTask(name, p, parts)
	c.submit(t)
	return &GenericCommand{Command: Command{t: t}, p: p}
}

// CopyUID unpacks a COPYUID response code: the destination mailbox's
// UIDVALIDITY, the source UID set and the corresponding destination
// UID set. ok is false when the hint is absent (server without
// UIDPLUS).
func (s *StatusResponse) CopyUID() (uidValidity uint32, source, dest SeqSet, ok bool) {
	if s.Code != CodeCopyUID || len(s.CodeArgs) < 3 {
		return 0, "", "", false
	}
	v, err := strconv.ParseUint(s.CodeArgs[0], 10, 32)
	if err != nil {
		return 0, "", "", false
	}
	return uint32(v), SeqSet(s.CodeArgs[1]), SeqSet(s.CodeArgs[2]), true
}

// AppendUID unpacks an APPENDUID response code.
func (s *StatusResponse) AppendUID() (uidValidity, uid uint32, ok bool) {
	if s.Code != CodeAppendUID || len(s.CodeArgs) < 2 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(s.CodeArgs[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	u, err := strconv.ParseUint(s.CodeArgs[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(v), uint32(u), true
}

// logoutParser accepts the BYE that precedes the tagged OK.
type logoutParser struct {
	genericParser
	text string
}
