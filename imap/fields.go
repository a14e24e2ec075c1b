package imap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mailhound/go-mailproto/internal/wire"
)

// fieldReader tokenizes a response unit into fields: atoms (NIL
// becomes nil), quoted strings, parenthesized lists ([]interface{})
// and literals ([]byte). Literal markers in the line text are
// resolved against the unit's literal parts positionally.
type fieldReader struct {
	unit *wire.Unit
	seg  string
	pos  int
	part int
}

func newFieldReader(u *wire.Unit, seg string) *fieldReader {
	return &fieldReader{unit: u, seg: seg}
}

func newParseError(text string) error {
	return &wire.ProtocolError{Text: text}
}

func (r *fieldReader) eof() bool {
	return r.pos >= len(r.seg) && r.part >= len(r.unit.Parts)
}

func (r *fieldReader) peek() (byte, bool) {
	if r.pos >= len(r.seg) {
		return 0, false
	}
	return r.seg[r.pos], true
}

func (r *fieldReader) skipSpaces() {
	for r.pos < len(r.seg) && r.seg[r.pos] == ' ' {
		r.pos++
	}
}

// readField reads one field, skipping leading spaces.
func (r *fieldReader) readField() (interface{}, error) {
	r.skipSpaces()
	c, ok := r.peek()
	if !ok {
		return nil, newParseError("unexpected end of response unit")
	}
	switch c {
	case '(':
		return r.readList()
	case '"':
		return r.readQuoted()
	case '{':
		if f, ok, err := r.readLiteral(); ok || err != nil {
			return f, err
		}
		return r.readAtom()
	default:
		return r.readAtom()
	}
}

// readFields reads space-separated fields until the end of the unit
// or an unbalanced ')'.
func (r *fieldReader) readFields() ([]interface{}, error) {
	var fields []interface{}
	for {
		r.skipSpaces()
		c, ok := r.peek()
		if !ok || c == ')' {
			return fields, nil
		}
		f, err := r.readField()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
}

func (r *fieldReader) readList() ([]interface{}, error) {
	r.pos++ // '('
	fields, err := r.readFields()
	if err != nil {
		return nil, err
	}
	c, ok := r.peek()
	if !ok || c != ')' {
		return nil, newParseError("list not closed with a parenthesis")
	}
	r.pos++
	if fields == nil {
		fields = []interface{}{}
	}
	return fields, nil
}

// readAtom reads an atom. Square brackets nest so section specs like
// BODY[HEADER.FIELDS (FROM)]<0> stay one token. A literal marker
// following the atom is not part of it; readField reads it as the next
// field.
func (r *fieldReader) readAtom() (interface{}, error) {
	start := r.pos
	brackets := 0
	for r.pos < len(r.seg) {
		switch c := r.seg[r.pos]; c {
		case '[':
			brackets++
		case ']':
			if brackets == 0 {
				return nil, newParseError("atom contains bad bracket nesting")
			}
			brackets--
		case ' ', ')':
			if brackets == 0 {
				goto done
			}
		case '(':
			if brackets == 0 {
				goto done
			}
		}
		r.pos++
	}
done:
	if r.pos == start {
		return nil, newParseError("empty atom")
	}
	atom := r.seg[start:r.pos]
	if atom == "NIL" {
		return nil, nil
	}
	return atom, nil
}

// readQuoted reads a quoted string, resolving backslash escapes for
// '"' and '\'.
func (r *fieldReader) readQuoted() (string, error) {
	r.pos++ // '"'
	var sb strings.Builder
	for r.pos < len(r.seg) {
		c := r.seg[r.pos]
		switch c {
		case '\\':
			if r.pos+1 >= len(r.seg) {
				return "", newParseError("quoted string ends with a backslash")
			}
			r.pos++
			sb.WriteByte(r.seg[r.pos])
		case '"':
			r.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
		}
		r.pos++
	}
	return "", newParseError("quoted string not closed")
}

// readLiteral consumes a trailing {N} marker and returns the matching
// literal bytes, advancing to the following line segment. ok is false
// when the brace does not terminate the segment (then it is atom
// text).
func (r *fieldReader) readLiteral() ([]byte, bool, error) {
	marker := r.seg[r.pos:]
	if !strings.HasSuffix(marker, "}") {
		return nil, false, nil
	}
	digits := strings.TrimSuffix(marker[1:len(marker)-1], "+")
	if digits == "" || strings.IndexFunc(digits, func(c rune) bool { return c < '0' || c > '9' }) >= 0 {
		return nil, false, nil
	}
	if r.part >= len(r.unit.Parts) {
		return nil, true, newParseError("literal marker without literal data")
	}
	p := r.unit.Parts[r.part]
	r.part++
	r.seg = p.Tail
	r.pos = 0
	return p.Bytes, true, nil
}

// rest returns the unread remainder of the current segment.
func (r *fieldReader) rest() string {
	s := r.seg[r.pos:]
	r.pos = len(r.seg)
	return s
}

// parseNumber converts an atom field to a uint32.
func parseNumber(f interface{}) (uint32, error) {
	s, ok := f.(string)
	if !ok {
		return 0, newParseError("number is not an atom")
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, newParseError("cannot parse number: " + err.Error())
	}
	return uint32(n), nil
}

func parseNumber64(f interface{}) (uint64, error) {
	s, ok := f.(string)
	if !ok {
		return 0, newParseError("number is not an atom")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, newParseError("cannot parse number: " + err.Error())
	}
	return n, nil
}

// parseString converts an atom, quoted string or literal field to a
// string.
func parseString(f interface{}) (string, error) {
	switch f := f.(type) {
	case string:
		return f, nil
	case []byte:
		return string(f), nil
	}
	return "", newParseError("field is not a string")
}

// parseStringList converts a parenthesized list of atoms to strings.
func parseStringList(f interface{}) ([]string, error) {
	fields, ok := f.([]interface{})
	if !ok {
		return nil, newParseError("field is not a list")
	}
	list := make([]string, len(fields))
	for i, e := range fields {
		s, err := parseString(e)
		if err != nil {
			return nil, err
		}
		list[i] = s
	}
	return list, nil
}

// splitUntagged splits an untagged head (after "* ") into an optional
// leading number, the response name, and the unread remainder.
func splitUntagged(head string) (num uint32, hasNum bool, name, rest string) {
	name = head
	if i := strings.IndexByte(head, ' '); i >= 0 {
		name, rest = head[:i], head[i+1:]
	}
	if n, err := strconv.ParseUint(name, 10, 32); err == nil {
		num, hasNum = uint32(n), true
		name = rest
		rest = ""
		if i := strings.IndexByte(name, ' '); i >= 0 {
			name, rest = name[:i], name[i+1:]
		}
	}
	return num, hasNum, strings.ToUpper(name), rest
}

// parseStatusLine parses the remainder of a status response: an
// optional [CODE args] hint followed by human text.
func parseStatusLine(typ StatusResponseType, rest string) (*StatusResponse, error) {
	status := &StatusResponse{Type: typ}
	if strings.HasPrefix(rest, "[") {
		depth := 0
		end := -1
	scan:
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					end = i
					break scan
				}
			}
		}
		if end < 0 {
			return nil, newParseError("response code not closed with a bracket")
		}
		inner := rest[1:end]
		rest = strings.TrimLeft(rest[end+1:], " ")

		code := inner
		args := ""
		if i := strings.IndexByte(inner, ' '); i >= 0 {
			code, args = inner[:i], inner[i+1:]
		}
		status.Code = ResponseCode(strings.ToUpper(code))
		if args != "" {
			r := newFieldReader(&wire.Unit{Head: args}, args)
			fields, err := r.readFields()
			if err != nil {
				return nil, err
			}
			status.CodeArgs = flattenFields(fields)
		}
	}
	status.Text = rest
	return status, nil
}

func flattenFields(fields []interface{}) []string {
	var out []string
	for _, f := range fields {
		switch f := f.(type) {
		case nil:
			out = append(out, "NIL")
		case string:
			out = append(out, f)
		case []byte:
			out = append(out, string(f))
		case []interface{}:
			out = append(out, flattenFields(f)...)
		default:
			out = append(out, fmt.Sprint(f))
		}
	}
	return out
}
