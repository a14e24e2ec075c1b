// Package imap implements an IMAP4rev1 client (RFC 3501) with the
// IDLE, METADATA, UIDPLUS, MOVE, CONDSTORE and ENABLE extensions.
//
// Commands are submitted through a scheduler that serializes them on
// the wire: one command is in flight at a time, later submissions
// queue behind it. Methods return typed command futures; call Wait to
// block for the tagged result. Unsolicited server state arrives on
// the client's event bus.
package imap

import (
	"errors"
	"fmt"
	"strings"
)

// Standard system flags, RFC 3501 section 2.3.2.
const (
	SeenFlag     = `\Seen`
	AnsweredFlag = `\Answered`
	FlaggedFlag  = `\Flagged`
	DeletedFlag  = `\Deleted`
	DraftFlag    = `\Draft`
	RecentFlag   = `\Recent`
)

// StatusResponseType is the condition of a status response.
type StatusResponseType string

const (
	StatusOK      StatusResponseType = "OK"
	StatusNo      StatusResponseType = "NO"
	StatusBad     StatusResponseType = "BAD"
	StatusPreAuth StatusResponseType = "PREAUTH"
	StatusBye     StatusResponseType = "BYE"
)

// ResponseCode is the parenthesized hint of a status response, e.g.
// UIDVALIDITY or READ-ONLY.
type ResponseCode string

const (
	CodeAlert          ResponseCode = "ALERT"
	CodeAppendUID      ResponseCode = "APPENDUID"
	CodeCapability     ResponseCode = "CAPABILITY"
	CodeCopyUID        ResponseCode = "COPYUID"
	CodeHighestModSeq  ResponseCode = "HIGHESTMODSEQ"
	CodePermanentFlags ResponseCode = "PERMANENTFLAGS"
	CodeReadOnly       ResponseCode = "READ-ONLY"
	CodeReadWrite      ResponseCode = "READ-WRITE"
	CodeTryCreate      ResponseCode = "TRYCREATE"
	CodeUIDNext        ResponseCode = "UIDNEXT"
	CodeUIDValidity    ResponseCode = "UIDVALIDITY"
	CodeUnseen         ResponseCode = "UNSEEN"
)

// StatusResponse is a tagged or untagged status line: condition,
// optional bracketed response code with arguments, and human text.
type StatusResponse struct {
	Type     StatusResponseType
	Code     ResponseCode
	CodeArgs []string
	Text     string
}

// Error is a command refused by the server with NO or BAD. It is
// non-fatal for the session.
type Error StatusResponse

var _ error = (*Error)(nil)

func (err *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "imap: %v", err.Type)
	if err.Code != "" {
		fmt.Fprintf(&sb, " [%v]", err.Code)
	}
	text := err.Text
	if text == "" {
		text = "<unknown>"
	}
	fmt.Fprintf(&sb, " %v", text)
	return sb.String()
}

var (
	// ErrNoMailboxSelected is returned by operations that require a
	// selected mailbox when none is.
	ErrNoMailboxSelected = errors.New("imap: no mailbox selected")

	// ErrConnectionLost fails every in-flight and queued command when
	// the transport drops.
	ErrConnectionLost = errors.New("imap: connection lost")

	// ErrByeReceived reports a server-initiated BYE outside LOGOUT.
	ErrByeReceived = errors.New("imap: server said BYE")

	// ErrCancelled resolves a command whose caller withdrew interest.
	ErrCancelled = errors.New("imap: command cancelled")

	// ErrContinuationAborted reports a continuation round the client
	// could not satisfy.
	ErrContinuationAborted = errors.New("imap: continuation aborted")
)

// CapSet is a server capability set.
type CapSet map[string]struct{}

// Has reports whether the capability is advertised.
func (set CapSet) Has(name string) bool {
	_, ok := set[strings.ToUpper(name)]
	return ok
}

func (set CapSet) add(name string) {
	set[strings.ToUpper(name)] = struct{}{}
}

// ServerInfo describes the session's server as learned from
// greetings and responses.
type ServerInfo struct {
	Host          string
	Port          string
	TLS           bool
	PathSeparator string // "" until the first LIST response
	Greeting      string
	Caps          CapSet
}

// A SeqSet is a message sequence set in RFC 3501 syntax, e.g. "1",
// "2:4" or "1,3:*".
type SeqSet string

// SeqNum returns a single-message set.
func SeqNum(n uint32) SeqSet {
	return SeqSet(fmt.Sprintf("%d", n))
}

// SeqRange returns the set start:stop.
func SeqRange(start, stop uint32) SeqSet {
	if start == stop {
		return SeqNum(start)
	}
	return SeqSet(fmt.Sprintf("%d:%d", start, stop))
}

// StoreAction selects how STORE applies flags.
type StoreAction int

const (
	AddFlags StoreAction = iota
	RemoveFlags
	ReplaceFlags
)

func (a StoreAction) item() string {
	switch a {
	case AddFlags:
		return "+FLAGS"
	case RemoveFlags:
		return "-FLAGS"
	case ReplaceFlags:
		return "FLAGS"
	}
	panic(fmt.Sprintf("imap: unknown store action %d", int(a)))
}
