package imap

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// step is one exchange of a scripted session: the line the client is
// expected to send, and the raw server output that follows. A step
// with an empty expect sends without reading (the greeting).
type step struct {
	expect string
	send   string
}

// testClient runs a scripted server on the far end of a pipe. The
// returned done channel yields the first expectation mismatch, or nil.
func testClient(t *testing.T, options *Options, script []step) (*Client, chan error) {
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
			if s.expect != "" {
				line, err := br.ReadString('\n')
				if err != nil {
					done <- err
					return
				}
				line = strings.TrimRight(line, "\r\n")
				if line != s.expect {
					done <- &wireMismatch{want: s.expect, got: line}
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

	c := New(clientConn, options)
	return c, done
}

type wireMismatch struct {
	want, got string
}

func (e *wireMismatch) Error() string {
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

func TestLoginAndSelectInbox(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK IMAP4rev1 ready\r\n"},
		{expect: "a0 LOGIN user pass", send: "a0 OK [CAPABILITY IMAP4rev1 IDLE] logged in\r\n"},
		{expect: `a1 LIST "" ""`, send: "* LIST (\\Noselect) \"/\" \"\"\r\na1 OK done\r\n"},
		{expect: "a2 SELECT INBOX", send: "* 172 EXISTS\r\n" +
			"* 1 RECENT\r\n" +
			"* OK [UIDVALIDITY 3857529045] UIDs valid\r\n" +
			"* OK [UIDNEXT 4392] Predicted next UID\r\n" +
			"* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n" +
			"a2 OK [READ-WRITE] Selected\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	caps, err := c.Login("user", "pass").Wait()
	require.NoError(t, err)
	require.True(t, caps.Has("IDLE"))

	mbox, err := c.SelectPath("INBOX")
	require.NoError(t, err)
	require.Equal(t, "/", c.PathSeparator())
	require.Equal(t, uint32(172), mbox.Exists)
	require.Equal(t, uint32(1), mbox.Recent)
	require.Equal(t, uint32(3857529045), mbox.UIDValidity)
	require.Equal(t, uint32(4392), mbox.UIDNext)
	require.Equal(t, Selected, mbox.State)
	require.False(t, mbox.ReadOnly)
	require.Len(t, mbox.Flags, 5)

	finishScript(t, done)
}

func TestFetchLiteralBody(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 SELECT INBOX", send: "* 1 EXISTS\r\na0 OK selected\r\n"},
		{expect: "a1 FETCH 1 BODY.PEEK[]",
			send: "* 1 FETCH (BODY[] {11}\r\nHello world)\r\na1 OK FETCH completed\r\n"},
	})

	_, err := c.SelectInbox()
	require.NoError(t, err)

	msgs, err := c.Fetch(SeqNum(1), "BODY.PEEK[]").Wait()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, uint32(1), msgs[0].SeqNum)
	require.Equal(t, []byte("Hello world"), msgs[0].BodySections["BODY[]"])

	finishScript(t, done)
}

func TestFetchParsesMimeTree(t *testing.T) {
	body := "Subject: hi\r\nContent-Type: text/plain\r\n\r\nhello"
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 SELECT INBOX", send: "* 1 EXISTS\r\na0 OK selected\r\n"},
		{expect: "a1 FETCH 1 (UID FLAGS BODY.PEEK[])",
			send: "* 1 FETCH (UID 42 FLAGS (\\Seen) BODY[] {" + strconv.Itoa(len(body)) + "}\r\n" + body + ")\r\n" +
				"a1 OK done\r\n"},
	})

	_, err := c.SelectInbox()
	require.NoError(t, err)

	msg, err := c.FetchMessage(1, "UID FLAGS BODY.PEEK[]")
	require.NoError(t, err)
	require.Equal(t, uint32(42), msg.UID)
	require.True(t, msg.HasFlag(SeenFlag))
	require.NotNil(t, msg.Entity)
	require.Equal(t, "hi", msg.Entity.Header.Subject())
	text, err := msg.Entity.Text()
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	finishScript(t, done)
}

func TestIdleCycle(t *testing.T) {
	bus := NewEventBus()
	events := make(chan Event, 8)
	bus.Subscribe(func(ev Event) { events <- ev })

	c, done := testClient(t, &Options{Bus: bus}, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 SELECT INBOX", send: "* 172 EXISTS\r\na0 OK selected\r\n"},
		{expect: "a1 IDLE", send: "+ idling\r\n* 173 EXISTS\r\n"},
		{expect: "DONE", send: "a1 OK IDLE terminated\r\n"},
	})

	mbox, err := c.SelectInbox()
	require.NoError(t, err)

	idle, err := c.Idle()
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, ExistsEvent{Count: 173}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("no Exists event during IDLE")
	}
	require.Equal(t, uint32(173), mbox.Exists)

	require.NoError(t, idle.Done())
	require.NoError(t, idle.Wait())

	finishScript(t, done)
}

func TestStoreAddFlag(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 SELECT INBOX", send: "* 4 EXISTS\r\na0 OK selected\r\n"},
		{expect: `a1 STORE 2:4 +FLAGS (\Seen)`,
			send: "* 2 FETCH (FLAGS (\\Seen))\r\n" +
				"* 3 FETCH (FLAGS (\\Seen \\Answered))\r\n" +
				"* 4 FETCH (FLAGS (\\Seen))\r\n" +
				"a1 OK STORE completed\r\n"},
	})

	_, err := c.SelectInbox()
	require.NoError(t, err)

	msgs, err := c.Store(SeqRange(2, 4), AddFlags, []string{SeenFlag}, false).Wait()
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, msg := range msgs {
		require.True(t, msg.HasFlag(SeenFlag))
	}

	finishScript(t, done)
}

func TestStoreRequiresSelection(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	_, err := c.Store(SeqNum(1), AddFlags, []string{SeenFlag}, false).Wait()
	require.ErrorIs(t, err, ErrNoMailboxSelected)

	finishScript(t, done)
}

func TestSearch(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 SELECT INBOX", send: "* 7 EXISTS\r\na0 OK selected\r\n"},
		{expect: "a1 SEARCH UNSEEN", send: "* SEARCH 2 5 7\r\na1 OK done\r\n"},
	})

	_, err := c.SelectInbox()
	require.NoError(t, err)

	ids, err := c.Search("").Wait()
	require.NoError(t, err)
	require.Equal(t, []uint32{2, 5, 7}, ids)

	finishScript(t, done)
}

func TestCopyUID(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 SELECT INBOX", send: "* 3 EXISTS\r\na0 OK selected\r\n"},
		{expect: "a1 COPY 1:3 Archive",
			send: "a1 OK [COPYUID 38505 1:3 3956:3958] done\r\n"},
	})

	_, err := c.SelectInbox()
	require.NoError(t, err)

	status, err := c.Copy(SeqRange(1, 3), &Mailbox{Path: "Archive"}).Wait()
	require.NoError(t, err)
	validity, src, dst, ok := status.CopyUID()
	require.True(t, ok)
	require.Equal(t, uint32(38505), validity)
	require.Equal(t, SeqSet("1:3"), src)
	require.Equal(t, SeqSet("3956:3958"), dst)

	finishScript(t, done)
}

func TestSetMetadataLiteralContinuation(t *testing.T) {
	value := strings.Repeat("x", 100)
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: `a0 SETMETADATA INBOX ("/private/comment" {100}`, send: "+ go ahead\r\n"},
		{expect: value + `)`, send: "a0 OK SETMETADATA complete\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	_, err := c.SetMetadata(MetadataEntry{
		Mailbox: "INBOX",
		Name:    "/private/comment",
		Value:   []byte(value),
	}).Wait()
	require.NoError(t, err)

	finishScript(t, done)
}

func TestSetMetadataInline(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: `a0 SETMETADATA "" ("/shared/motd" "short value")`,
			send: "a0 OK done\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	_, err := c.SetMetadata(MetadataEntry{
		Name:  "/shared/motd",
		Value: []byte("short value"),
	}).Wait()
	require.NoError(t, err)

	finishScript(t, done)
}

func TestGetMetadata(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: `a0 GETMETADATA INBOX ("/private/comment")`,
			send: "* METADATA INBOX (\"/private/comment\" {5}\r\nhello)\r\na0 OK done\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	entries, err := c.GetMetadata("INBOX", []string{"/private/comment"}, nil).Wait()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "INBOX", entries[0].Mailbox)
	require.Equal(t, "/private/comment", entries[0].Name)
	require.Equal(t, []byte("hello"), entries[0].Value)

	finishScript(t, done)
}

func TestCommandsCompleteInSubmissionOrder(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 NOOP", send: "a0 OK one\r\n"},
		{expect: "a1 NOOP", send: "a1 OK two\r\n"},
		{expect: "a2 NOOP", send: "a2 OK three\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	first := c.Noop()
	second := c.Noop()
	third := c.Noop()

	_, err := third.Wait()
	require.NoError(t, err)
	_, err = second.Wait()
	require.NoError(t, err)
	_, err = first.Wait()
	require.NoError(t, err)

	finishScript(t, done)
}

func TestServerNoIsCommandError(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 CREATE Sent", send: "a0 NO [ALREADYEXISTS] duplicate\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	_, err := c.Create("Sent").Wait()
	var imapErr *Error
	require.ErrorAs(t, err, &imapErr)
	require.Equal(t, StatusNo, imapErr.Type)
	require.Equal(t, "duplicate", imapErr.Text)

	finishScript(t, done)
}

func TestLogout(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 LOGOUT", send: "* BYE see you\r\na0 OK bye\r\n"},
	})
	require.NoError(t, c.waitGreeting())

	bye, err := c.Logout().Wait()
	require.NoError(t, err)
	require.Equal(t, "see you", bye)

	finishScript(t, done)
}

func TestConnectionLostFailsPending(t *testing.T) {
	c, done := testClient(t, nil, []step{
		{send: "* OK ready\r\n"},
		{expect: "a0 NOOP"},
	})
	require.NoError(t, c.waitGreeting())

	cmd := c.Noop()
	finishScript(t, done) // server hangs up without answering

	_, err := cmd.Wait()
	require.ErrorIs(t, err, ErrConnectionLost)
}

