// Package message implements MIME message parsing and generation per
// RFC 2045-2047 and RFC 2231: nested multipart entities, header
// folding and encoded-words, quoted-printable and base64 transfer
// encodings, and US-ASCII/UTF-8/ISO-8859-1 charsets.
package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// An Entity is one node of a MIME message tree. A leaf carries its
// body in Raw, still in its transfer encoding; a multipart node
// carries children in Parts. An entity parsed from bytes and left
// unmodified re-emits those bytes.
type Entity struct {
	Header Header

	// Raw is the undecoded leaf body.
	Raw []byte

	// Parts holds the children of a multipart entity.
	Parts []*Entity

	// Multipart framing kept for byte-exact re-emission.
	boundary string
	preamble []byte
	epilogue []byte
}

// Read parses a full message.
func Read(b []byte) (*Entity, error) {
	rawHeader, body := splitHeaderBody(b)
	header, err := readHeader(rawHeader)
	if err != nil {
		return nil, err
	}
	return readEntity(header, body)
}

func readEntity(header Header, body []byte) (*Entity, error) {
	e := &Entity{Header: header}

	mediaType, params, err := e.Header.ContentType()
	if err != nil {
		// A broken Content-Type demotes the body to an opaque leaf.
		e.Raw = body
		return e, nil
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		e.Raw = body
		return e, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("message: %v entity without boundary parameter", mediaType)
	}
	e.boundary = boundary

	preamble, parts, epilogue, err := splitMultipart(body, boundary)
	if err != nil {
		return nil, err
	}
	e.preamble = preamble
	e.epilogue = epilogue
	for _, raw := range parts {
		childHeader, childBody := splitHeaderBody(raw)
		h, err := readHeader(childHeader)
		if err != nil {
			return nil, err
		}
		child, err := readEntity(h, childBody)
		if err != nil {
			return nil, err
		}
		e.Parts = append(e.Parts, child)
	}
	return e, nil
}

// splitHeaderBody splits a message into its raw header block and
// body at the first empty line.
func splitHeaderBody(b []byte) (header, body []byte) {
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		return b[:i+2], b[i+4:]
	}
	if i := bytes.Index(b, []byte("\n\n")); i >= 0 {
		return b[:i+1], b[i+2:]
	}
	return b, nil
}

// splitMultipart splits body on --boundary delimiter lines. The
// returned part slices are raw (headers included); preamble and
// epilogue keep the bytes outside the delimiters.
func splitMultipart(body []byte, boundary string) (preamble []byte, parts [][]byte, epilogue []byte, err error) {
	delim := "--" + boundary
	var (
		cur     []byte
		started bool
		closed  bool
	)
	flush := func(upto []byte) {
		// Strip the CRLF that belongs to the delimiter line.
		upto = bytes.TrimSuffix(upto, []byte("\r\n"))
		if !started {
			preamble = upto
		} else {
			parts = append(parts, upto)
		}
	}

	rest := body
	for len(rest) > 0 {
		line, tail := cutLine(rest)
		trimmed := strings.TrimRight(string(trimLineEnding(line)), " \t")
		switch {
		case closed:
			epilogue = append(epilogue, line...)
		case trimmed == delim+"--":
			flush(cur)
			closed = true
			started = true
		case trimmed == delim:
			flush(cur)
			cur = nil
			started = true
		default:
			cur = append(cur, line...)
		}
		rest = tail
	}
	if !closed {
		return nil, nil, nil, fmt.Errorf("message: unterminated multipart body (boundary %q)", boundary)
	}
	return preamble, parts, epilogue, nil
}

func cutLine(b []byte) (line, rest []byte) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i+1], b[i+1:]
	}
	return b, nil
}

// WriteTo emits the entity with CRLF line endings. Children of a
// multipart node are framed by the node's boundary.
func (e *Entity) WriteTo(w io.Writer) error {
	var buf bytes.Buffer
	writeHeader(&buf, &e.Header)
	if e.Parts == nil {
		buf.Write(e.Raw)
	} else {
		boundary := e.boundary
		if boundary == "" {
			return fmt.Errorf("message: multipart entity without boundary")
		}
		if len(e.preamble) > 0 {
			buf.Write(e.preamble)
			buf.WriteString("\r\n")
		}
		for _, part := range e.Parts {
			buf.WriteString("--" + boundary + "\r\n")
			var pb bytes.Buffer
			if err := part.WriteTo(&pb); err != nil {
				return err
			}
			buf.Write(pb.Bytes())
			// A nested multipart already ends at a line boundary; its
			// final CRLF doubles as the delimiter's. Leaf bodies own
			// all their bytes, so the delimiter CRLF is always added.
			if part.Parts == nil || !bytes.HasSuffix(pb.Bytes(), []byte("\r\n")) {
				buf.WriteString("\r\n")
			}
		}
		buf.WriteString("--" + boundary + "--\r\n")
		buf.Write(e.epilogue)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Bytes emits the entity.
func (e *Entity) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Body returns the leaf body with its transfer encoding decoded.
func (e *Entity) Body() ([]byte, error) {
	if e.Parts != nil {
		return nil, fmt.Errorf("message: multipart entity has no leaf body")
	}
	return DecodeTransfer(e.Header.Get("Content-Transfer-Encoding"), e.Raw)
}

// Text returns the decoded body converted from its declared charset
// to UTF-8. It is only meaningful for text/* leaves.
func (e *Entity) Text() (string, error) {
	b, err := e.Body()
	if err != nil {
		return "", err
	}
	_, params, err := e.Header.ContentType()
	if err != nil {
		return string(b), nil
	}
	r, err := CharsetReader(params["charset"], bytes.NewReader(b))
	if err != nil {
		return string(b), err
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// Equal reports deep tree equality: header fields in order, leaf
// bytes, and children pairwise.
func (e *Entity) Equal(other *Entity) bool {
	if len(e.Header.fields) != len(other.Header.fields) {
		return false
	}
	for i, f := range e.Header.fields {
		g := other.Header.fields[i]
		if f.Name != g.Name || f.Value != g.Value {
			return false
		}
	}
	if !bytes.Equal(e.Raw, other.Raw) {
		return false
	}
	if len(e.Parts) != len(other.Parts) {
		return false
	}
	for i, p := range e.Parts {
		if !p.Equal(other.Parts[i]) {
			return false
		}
	}
	return true
}
