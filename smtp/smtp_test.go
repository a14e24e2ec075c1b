package smtp

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/require"
)

type step struct {
	expect string
	// expectEmpty awaits a blank line (expect can't encode one).
	expectEmpty bool
	send        string
}

func testClient(t *testing.T, script []step) (*Client, chan error) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	done := make(chan error, 1)
	go func() {
		defer serverConn.Close()
		br := bufio.NewReader(serverConn)
		for _, s := range script {
			if s.expect != "" || s.expectEmpty {
				line, err := br.ReadString('\n')
				if err != nil {
					done <- err
					return
				}
				line = strings.TrimRight(line, "\r\n")
				if line != s.expect {
					done <- &mismatch{want: s.expect, got: line}
					return
				}
			}
			if s.send != "" {
				if _, err := serverConn.Write([]byte(s.send)); err != nil {
					done <- err
					return
				}
			}
		}
		done <- nil
	}()

	clientDone := make(chan *Client, 1)
	errDone := make(chan error, 1)
	go func() {
		c, err := NewClient(clientConn, &Options{LocalName: "enough.de"})
		if err != nil {
			errDone <- err
			return
		}
		clientDone <- c
	}()

	select {
	case c := <-clientDone:
		return c, done
	case err := <-errDone:
		t.Fatalf("greeting failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("greeting timed out")
	}
	return nil, nil
}

type mismatch struct {
	want, got string
}

func (e *mismatch) Error() string {
	return "client sent " + e.got + ", want " + e.want
}

func finishScript(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scripted server did not finish")
	}
}

func TestSendMessage(t *testing.T) {
	c, done := testClient(t, []step{
		{send: "220 mail.example.org ESMTP\r\n"},
		{expect: "EHLO enough.de", send: "250-mail.example.org\r\n250 PIPELINING\r\n"},
		{expect: "MAIL FROM:<s@x>", send: "250 OK\r\n"},
		{expect: "RCPT TO:<r@y>", send: "250 OK\r\n"},
		{expect: "DATA", send: "354 go ahead\r\n"},
		{expect: "Subject: test"},
		{expectEmpty: true},
		{expect: "..leading dot"},
		{expect: "last line"},
		{expect: ".", send: "250 OK queued\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	require.NoError(t, c.Mail("s@x"))
	require.NoError(t, c.Rcpt("r@y"))

	wc, err := c.Data()
	require.NoError(t, err)
	_, err = wc.Write([]byte("Subject: test\r\n\r\n.leading dot\r\nlast line"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	require.NoError(t, c.Quit())
	finishScript(t, done)
}

func TestExtensions(t *testing.T) {
	c, done := testClient(t, []step{
		{send: "220 ready\r\n"},
		{expect: "EHLO enough.de", send: "250-mail.example.org\r\n250-SIZE 35882577\r\n250 AUTH PLAIN LOGIN\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	require.NoError(t, c.Hello())
	ok, params := c.Extension("SIZE")
	require.True(t, ok)
	require.Equal(t, "35882577", params)
	ok, params = c.Extension("auth")
	require.True(t, ok)
	require.Equal(t, "PLAIN LOGIN", params)

	require.NoError(t, c.Quit())
	finishScript(t, done)
}

func TestAuthPlain(t *testing.T) {
	// base64("\x00user\x00pass")
	c, done := testClient(t, []step{
		{send: "220 ready\r\n"},
		{expect: "EHLO enough.de", send: "250 AUTH PLAIN\r\n"},
		{expect: "AUTH PLAIN AHVzZXIAcGFzcw==", send: "235 authenticated\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	require.NoError(t, c.Auth(sasl.NewPlainClient("", "user", "pass")))
	require.NoError(t, c.Quit())
	finishScript(t, done)
}

// challengeClient is a SASL mechanism without an initial response,
// driving the 334 challenge loop.
type challengeClient struct {
	responses map[string]string
}

func (c *challengeClient) Start() (string, []byte, error) {
	return "XCHAL", nil, nil
}

func (c *challengeClient) Next(challenge []byte) ([]byte, error) {
	resp, ok := c.responses[string(challenge)]
	if !ok {
		return nil, sasl.ErrUnexpectedServerChallenge
	}
	return []byte(resp), nil
}

func TestAuthChallengeLoop(t *testing.T) {
	c, done := testClient(t, []step{
		{send: "220 ready\r\n"},
		{expect: "EHLO enough.de", send: "250 AUTH XCHAL\r\n"},
		{expect: "AUTH XCHAL", send: "334 VXNlcm5hbWU6\r\n"}, // "Username:"
		{expect: "dXNlcg==", send: "334 UGFzc3dvcmQ6\r\n"},   // "Password:"
		{expect: "cGFzcw==", send: "235 authenticated\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	mech := &challengeClient{responses: map[string]string{
		"Username:": "user",
		"Password:": "pass",
	}}
	require.NoError(t, c.Auth(mech))
	require.NoError(t, c.Quit())
	finishScript(t, done)
}

func TestPermanentFailure(t *testing.T) {
	c, done := testClient(t, []step{
		{send: "220 ready\r\n"},
		{expect: "EHLO enough.de", send: "250 OK\r\n"},
		{expect: "MAIL FROM:<s@x>", send: "550 rejected\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	err := c.Mail("s@x")
	var smtpErr *SMTPError
	require.ErrorAs(t, err, &smtpErr)
	require.Equal(t, 550, smtpErr.Code)
	require.False(t, smtpErr.Temporary())

	require.NoError(t, c.Quit())
	finishScript(t, done)
}

func TestTransientFailure(t *testing.T) {
	c, done := testClient(t, []step{
		{send: "220 ready\r\n"},
		{expect: "EHLO enough.de", send: "250 OK\r\n"},
		{expect: "MAIL FROM:<s@x>", send: "451 try again later\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	err := c.Mail("s@x")
	var smtpErr *SMTPError
	require.ErrorAs(t, err, &smtpErr)
	require.True(t, smtpErr.Temporary())

	require.NoError(t, c.Quit())
	finishScript(t, done)
}

func TestHeloFallback(t *testing.T) {
	c, done := testClient(t, []step{
		{send: "220 ready\r\n"},
		{expect: "EHLO enough.de", send: "502 command not implemented\r\n"},
		{expect: "HELO enough.de", send: "250 ok\r\n"},
		{expect: "QUIT", send: "221 bye\r\n"},
	})

	require.NoError(t, c.Hello())
	require.NoError(t, c.Quit())
	finishScript(t, done)
}
