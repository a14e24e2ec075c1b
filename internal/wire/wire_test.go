package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestReader(s string) *Reader {
	return NewReader(bufio.NewReader(strings.NewReader(s)))
}

func TestReadUnitPlainLine(t *testing.T) {
	r := newTestReader("* OK IMAP4rev1 ready\r\n")
	u, err := r.ReadUnit()
	require.NoError(t, err)
	require.Equal(t, "* OK IMAP4rev1 ready", u.Head)
	require.Empty(t, u.Parts)
}

func TestReadUnitLiteral(t *testing.T) {
	r := newTestReader("* 1 FETCH (BODY[] {11}\r\nHello world)\r\n")
	u, err := r.ReadUnit()
	require.NoError(t, err)
	require.Equal(t, "* 1 FETCH (BODY[] {11}", u.Head)
	require.Len(t, u.Parts, 1)
	require.Equal(t, []byte("Hello world"), u.Parts[0].Bytes)
	require.Equal(t, ")", u.Parts[0].Tail)
}

func TestReadUnitLiteralWithCRLF(t *testing.T) {
	// The literal body may contain CRLF; framing must not split on it.
	for _, n := range []int{0, 1, 2, 13, 64} {
		body := strings.Repeat("a\r\n", n)
		in := fmt.Sprintf("* 1 FETCH (BODY[] {%d}\r\n%s tail)\r\n", len(body), body)
		r := newTestReader(in)
		u, err := r.ReadUnit()
		require.NoError(t, err)
		require.Len(t, u.Parts, 1)
		require.Equal(t, []byte(body), u.Parts[0].Bytes)
		require.Equal(t, " tail)", u.Parts[0].Tail)
	}
}

func TestReadUnitMultipleLiterals(t *testing.T) {
	r := newTestReader("* METADATA \"\" (/private/comment {3}\r\nfoo /shared/x {4}\r\nbarb)\r\n")
	u, err := r.ReadUnit()
	require.NoError(t, err)
	require.Len(t, u.Parts, 2)
	require.Equal(t, []byte("foo"), u.Parts[0].Bytes)
	require.Equal(t, []byte("barb"), u.Parts[1].Bytes)
	require.Equal(t, ")", u.Parts[1].Tail)
}

func TestReadUnitBraceNotLiteral(t *testing.T) {
	r := newTestReader("* OK {not a literal\r\n")
	u, err := r.ReadUnit()
	require.NoError(t, err)
	require.Equal(t, "* OK {not a literal", u.Head)
	require.Empty(t, u.Parts)
}

func TestReadUnitLiteralOverflow(t *testing.T) {
	r := newTestReader(fmt.Sprintf("* 1 FETCH (BODY[] {%d}\r\n", MaxLiteralLen+1))
	_, err := r.ReadUnit()
	require.ErrorIs(t, err, ErrOverflow)
}

func TestReadReplySingle(t *testing.T) {
	r := newTestReader("250 OK\r\n")
	reply, err := r.ReadReply()
	require.NoError(t, err)
	require.Equal(t, 250, reply.Code)
	require.Equal(t, []string{"OK"}, reply.Lines)
}

func TestReadReplyMultiline(t *testing.T) {
	r := newTestReader("250-mail.example.org\r\n250-SIZE 35882577\r\n250 PIPELINING\r\n")
	reply, err := r.ReadReply()
	require.NoError(t, err)
	require.Equal(t, 250, reply.Code)
	require.Equal(t, []string{"mail.example.org", "SIZE 35882577", "PIPELINING"}, reply.Lines)
}

func TestReadReplyCodeMismatch(t *testing.T) {
	r := newTestReader("250-one\r\n550 two\r\n")
	_, err := r.ReadReply()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestReadPOPLine(t *testing.T) {
	r := newTestReader("+OK 2 messages\r\n-ERR no such message\r\n+OK\r\n")

	ok, text, err := r.ReadPOPLine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2 messages", text)

	ok, text, err = r.ReadPOPLine()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "no such message", text)

	ok, _, err = r.ReadPOPLine()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReadDotBody(t *testing.T) {
	r := newTestReader("line one\r\n..stuffed\r\n.\r\n")
	body, err := r.ReadDotBody()
	require.NoError(t, err)
	require.Equal(t, "line one\r\n.stuffed\r\n", string(body))
}

func TestReadDotBodyEmpty(t *testing.T) {
	r := newTestReader(".\r\n")
	body, err := r.ReadDotBody()
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestReadUnitAfterReset(t *testing.T) {
	r := newTestReader("* OK before\r\n")
	_, err := r.ReadUnit()
	require.NoError(t, err)

	r.Reset(bufio.NewReader(bytes.NewReader([]byte("* OK after\r\n"))))
	u, err := r.ReadUnit()
	require.NoError(t, err)
	require.Equal(t, "* OK after", u.Head)
}
