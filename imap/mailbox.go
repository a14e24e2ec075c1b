package imap

import "strings"

// SelectionState is a mailbox's selection state on this client.
type SelectionState int

const (
	Unselected SelectionState = iota
	Selected
	Examined
)

// A Mailbox is a server mailbox together with the counts from the
// most recent server statement about it.
type Mailbox struct {
	// Path is the server canonical name, Name its last segment.
	Path      string
	Name      string
	Delimiter string

	// Flags are the LIST attributes, e.g. \Noselect or \HasChildren.
	// A successful SELECT or EXAMINE replaces them with the message
	// flags of the server's FLAGS response.
	Flags []string

	Exists        uint32
	Recent        uint32
	Unseen        uint32
	UIDNext       uint32
	UIDValidity   uint32
	HighestModSeq uint64

	State    SelectionState
	ReadOnly bool

	PermanentFlags []string
}

// HasFlag reports whether the mailbox carries the given LIST
// attribute.
func (m *Mailbox) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// IsSelectable reports whether the mailbox can be selected.
func (m *Mailbox) IsSelectable() bool {
	return !m.HasFlag(`\Noselect`)
}

func newMailbox(path, delimiter string) *Mailbox {
	name := path
	if delimiter != "" {
		if i := strings.LastIndex(path, delimiter); i >= 0 {
			name = path[i+len(delimiter):]
		}
	}
	return &Mailbox{Path: path, Name: name, Delimiter: delimiter}
}
