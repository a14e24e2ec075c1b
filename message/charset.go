package message

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// UnknownCharsetError is returned when a message declares a charset
// outside the supported set. The raw bytes remain available to the
// caller.
type UnknownCharsetError struct {
	Charset string
}

func (err *UnknownCharsetError) Error() string {
	return fmt.Sprintf("message: unknown charset %q", err.Charset)
}

// CharsetReader returns a reader decoding input from the named
// charset to UTF-8. Supported: US-ASCII, UTF-8 and ISO-8859-1 with
// their common aliases.
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1", "cp819":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	}
	return nil, &UnknownCharsetError{Charset: charset}
}
