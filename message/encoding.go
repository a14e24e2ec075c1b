package message

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-textwrapper"
)

// DecodeTransfer decodes a body per its Content-Transfer-Encoding.
// 7bit, 8bit and binary are identity. Base64 decoding ignores
// embedded whitespace.
func DecodeTransfer(encoding string, b []byte) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "7bit", "8bit", "binary":
		return b, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(b)))
	case "base64":
		clean := bytes.Join(bytes.Fields(b), nil)
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(clean)))
	}
	return nil, fmt.Errorf("message: unknown transfer encoding %q", encoding)
}

// encodeTransfer encodes a body for emission. Base64 output is
// wrapped at 76 columns.
func encodeTransfer(encoding string, b []byte) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "7bit", "8bit", "binary":
		return b, nil
	case "quoted-printable":
		var buf bytes.Buffer
		w := quotedprintable.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "base64":
		var buf bytes.Buffer
		w := base64.NewEncoder(base64.StdEncoding, textwrapper.NewRFC822(&buf))
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("message: unknown transfer encoding %q", encoding)
}

var wordDecoder = &mime.WordDecoder{CharsetReader: CharsetReader}

// DecodeHeader decodes RFC 2047 encoded-words in an unstructured
// header value. Whitespace between adjacent encoded words is
// removed. Undecodable input is returned unchanged.
func DecodeHeader(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// EncodeHeader Q-encodes a header value when it contains non-ASCII
// characters and returns it unchanged otherwise.
func EncodeHeader(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}
