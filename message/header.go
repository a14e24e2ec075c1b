package message

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
)

// A HeaderField is a single message header. Value is the unfolded
// value; raw keeps the original folded bytes (including the trailing
// CRLF) so an unmodified header re-emits verbatim.
type HeaderField struct {
	Name  string
	Value string

	raw []byte
}

// Header is an ordered list of header fields. Lookups are
// case-insensitive, order and duplicates are preserved.
type Header struct {
	fields []HeaderField
}

// Get returns the unfolded value of the first field with the given
// name, or "" if absent.
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether a field with the given name is present.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Values returns the values of all fields with the given name.
func (h *Header) Values(name string) []string {
	var l []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			l = append(l, f.Value)
		}
	}
	return l
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Set replaces all fields with the given name by a single one.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes all fields with the given name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Fields returns the fields in order.
func (h *Header) Fields() []HeaderField {
	return h.fields
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Text returns the first value of the given field with RFC 2047
// encoded-words decoded.
func (h *Header) Text(name string) string {
	return DecodeHeader(h.Get(name))
}

// Subject returns the decoded Subject field.
func (h *Header) Subject() string {
	return h.Text("Subject")
}

// ContentType parses the Content-Type field into a lowercase media
// type and its parameters. Without a Content-Type field it defaults
// to text/plain per RFC 2045.
func (h *Header) ContentType() (mediaType string, params map[string]string, err error) {
	v := h.Get("Content-Type")
	if v == "" {
		return "text/plain", map[string]string{"charset": "us-ascii"}, nil
	}
	return mime.ParseMediaType(v)
}

// ContentDisposition parses the Content-Disposition field.
func (h *Header) ContentDisposition() (disp string, params map[string]string, err error) {
	v := h.Get("Content-Disposition")
	if v == "" {
		return "", nil, nil
	}
	return mime.ParseMediaType(v)
}

// readHeader parses a raw header block (without the blank separator
// line). Continuation lines beginning with whitespace are unfolded
// into the previous field, the folding whitespace collapsed to one
// space in the value while the raw bytes are kept for re-emission.
func readHeader(raw []byte) (Header, error) {
	var h Header
	for len(raw) > 0 {
		end := bytes.IndexByte(raw, '\n')
		var line []byte
		if end < 0 {
			line, raw = raw, nil
		} else {
			line, raw = raw[:end+1], raw[end+1:]
		}

		if line[0] == ' ' || line[0] == '\t' {
			if len(h.fields) == 0 {
				return h, fmt.Errorf("message: header starts with a continuation line")
			}
			f := &h.fields[len(h.fields)-1]
			f.raw = append(f.raw, line...)
			f.Value += " " + string(trimLineEnding(bytes.TrimLeft(line, " \t")))
			continue
		}

		trimmed := trimLineEnding(line)
		colon := bytes.IndexByte(trimmed, ':')
		if colon < 0 {
			return h, fmt.Errorf("message: malformed header line %q", string(trimmed))
		}
		h.fields = append(h.fields, HeaderField{
			Name:  string(bytes.TrimRight(trimmed[:colon], " \t")),
			Value: string(bytes.TrimLeft(trimmed[colon+1:], " \t")),
			raw:   append([]byte(nil), line...),
		})
	}
	return h, nil
}

func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// writeHeader emits the header block, terminating with the blank
// separator line. Fields parsed from bytes re-emit verbatim.
func writeHeader(buf *bytes.Buffer, h *Header) {
	for _, f := range h.fields {
		if f.raw != nil {
			buf.Write(f.raw)
			continue
		}
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(foldValue(f.Value, len(f.Name)+2))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
}

// foldValue folds a header value so that no emitted line exceeds the
// RFC 5322 must limit of 998 characters. Folding happens at spaces.
func foldValue(v string, used int) string {
	const limit = 998
	if used+len(v) <= limit {
		return v
	}
	var sb strings.Builder
	line := used
	for i, word := range strings.Split(v, " ") {
		if i > 0 {
			if line+1+len(word) > limit {
				sb.WriteString("\r\n ")
				line = 1
			} else {
				sb.WriteString(" ")
				line++
			}
		}
		sb.WriteString(word)
		line += len(word)
	}
	return sb.String()
}
