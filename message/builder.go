package message

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"time"
)

// An Attachment is a file part added to a built message.
type Attachment struct {
	Filename  string
	MediaType string
	Content   []byte
}

// A Builder assembles a MIME message from abstract parts. Text and
// HTML bodies become a multipart/alternative; attachments wrap the
// result in multipart/mixed. Boundaries are generated and guaranteed
// not to occur in any enclosed content.
type Builder struct {
	From      string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	Date      time.Time
	MessageID string

	Text string
	HTML string

	Attachments []Attachment
}

// Build assembles the message tree.
func (b *Builder) Build() (*Entity, error) {
	body, err := b.buildBody()
	if err != nil {
		return nil, err
	}

	// Canonical header order.
	h := &body.Header
	fields := make([]HeaderField, 0, h.Len()+8)
	add := func(name, value string) {
		if value != "" {
			fields = append(fields, HeaderField{Name: name, Value: value})
		}
	}
	add("From", EncodeHeader(b.From))
	add("To", addressList(b.To))
	add("Cc", addressList(b.Cc))
	add("Bcc", addressList(b.Bcc))
	add("Subject", EncodeHeader(b.Subject))
	date := b.Date
	if date.IsZero() {
		date = time.Now()
	}
	add("Date", date.Format(time.RFC1123Z))
	add("Message-ID", b.MessageID)
	add("MIME-Version", "1.0")
	fields = append(fields, h.fields...)
	h.fields = fields
	return body, nil
}

func (b *Builder) buildBody() (*Entity, error) {
	var alternatives []*Entity
	if b.Text != "" {
		alternatives = append(alternatives, textPart("text/plain", b.Text))
	}
	if b.HTML != "" {
		alternatives = append(alternatives, textPart("text/html", b.HTML))
	}

	var body *Entity
	switch len(alternatives) {
	case 0:
		if len(b.Attachments) == 0 {
			return nil, fmt.Errorf("message: empty message")
		}
	case 1:
		body = alternatives[0]
	default:
		multi, err := multipartEntity("multipart/alternative", alternatives)
		if err != nil {
			return nil, err
		}
		body = multi
	}

	if len(b.Attachments) == 0 {
		return body, nil
	}

	parts := make([]*Entity, 0, len(b.Attachments)+1)
	if body != nil {
		parts = append(parts, body)
	}
	for _, a := range b.Attachments {
		part, err := attachmentPart(a)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return multipartEntity("multipart/mixed", parts)
}

func textPart(mediaType, text string) *Entity {
	e := &Entity{}
	encoding := "7bit"
	if !isPlain7bit(text) {
		encoding = "quoted-printable"
	}
	encoded, _ := encodeTransfer(encoding, []byte(text))
	e.Header.Add("Content-Type", mediaType+"; charset=utf-8")
	e.Header.Add("Content-Transfer-Encoding", encoding)
	e.Raw = encoded
	return e
}

func attachmentPart(a Attachment) (*Entity, error) {
	mediaType := a.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	encoded, err := encodeTransfer("base64", a.Content)
	if err != nil {
		return nil, err
	}
	e := &Entity{Raw: encoded}
	e.Header.Add("Content-Type", mediaType)
	e.Header.Add("Content-Transfer-Encoding", "base64")
	e.Header.Add("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	return e, nil
}

func multipartEntity(mediaType string, parts []*Entity) (*Entity, error) {
	boundary, err := newBoundary(parts)
	if err != nil {
		return nil, err
	}
	e := &Entity{Parts: parts, boundary: boundary}
	e.Header.Add("Content-Type", mime.FormatMediaType(mediaType, map[string]string{"boundary": boundary}))
	return e, nil
}

// newBoundary draws random boundaries until one does not occur in
// any enclosed part.
func newBoundary(parts []*Entity) (string, error) {
	for {
		var buf [18]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		boundary := "b_" + hex.EncodeToString(buf[:])
		if !occursIn(parts, []byte(boundary)) {
			return boundary, nil
		}
	}
}

func occursIn(parts []*Entity, needle []byte) bool {
	for _, p := range parts {
		if bytes.Contains(p.Raw, needle) {
			return true
		}
		if occursIn(p.Parts, needle) {
			return true
		}
	}
	return false
}

// isPlain7bit reports whether text can be emitted as-is under the
// 998-octet line limit.
func isPlain7bit(text string) bool {
	lineLen := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c >= 0x80 || c == 0 {
			return false
		}
		if c == '\n' {
			lineLen = 0
			continue
		}
		lineLen++
		if lineLen > 998 {
			return false
		}
	}
	return true
}

func addressList(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	var buf bytes.Buffer
	for i, a := range addrs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(EncodeHeader(a))
	}
	return buf.String()
}
