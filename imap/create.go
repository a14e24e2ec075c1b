package imap

// Create makes a new mailbox with the given path.
func (c *Client) Create(path string) *GenericCommand {
	return c.generic("CREATE", []byte("CREATE "+encodeMailbox(path)))
}

// Delete removes a mailbox.
func (c *Client) Delete(mbox *Mailbox) *GenericCommand {
	return c.generic("DELETE", []byte("DELETE "+encodeMailbox(mbox.Path)))
}

// Rename renames a mailbox. Renaming INBOX has special semantics
// (RFC 3501 section 6.3.5): the server moves INBOX's messages to the
// new mailbox and leaves an empty INBOX behind, so the old name
// remains valid afterwards. The Mailbox value is not mutated; re-list
// to observe the new name.
func (c *Client) Rename(mbox *Mailbox, newPath string) *GenericCommand {
	line := "RENAME " + encodeMailbox(mbox.Path) + " " + encodeMailbox(newPath)
	return c.generic("RENAME", []byte(line))
}

// Subscribe adds a mailbox to the subscription list.
func (c *Client) Subscribe(mbox *Mailbox) *GenericCommand {
	return c.generic("SUBSCRIBE", []byte("SUBSCRIBE "+encodeMailbox(mbox.Path)))
}

// Unsubscribe removes a mailbox from the subscription list.
func (c *Client) Unsubscribe(mbox *Mailbox) *GenericCommand {
	return c.generic("UNSUBSCRIBE", []byte("UNSUBSCRIBE "+encodeMailbox(mbox.Path)))
}
