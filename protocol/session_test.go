package protocol

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MbeleckBerle/ssl-server/index"
	"github.com/MbeleckBerle/ssl-server/search"
	"github.com/MbeleckBerle/ssl-server/utils"
	"github.com/stretchr/testify/assert"
)

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type journalSink struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (j *journalSink) record(e JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func (j *journalSink) last() (JournalEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return JournalEntry{}, false
	}
	return j.entries[len(j.entries)-1], true
}

func testResolver(t *testing.T, content string) *index.Resolver {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.txt")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return index.NewResolver(path, false, utils.NewDefaultLogger(slog.LevelError))
}

// startSession wires a session over net.Pipe and returns the client
// end plus a channel carrying Keep's return value.
func startSession(t *testing.T, opts SessionOptions, gate Gate, resolver *index.Resolver, sink *journalSink) (net.Conn, chan error) {
	t.Helper()

	server, client := net.Pipe()
	exec := search.NewExecutor(time.Second, search.Hashed, 0)

	var journal Journal
	if sink != nil {
		journal = sink.record
	}
	sess := NewSession(server, "test", opts, utils.NewDefaultLogger(slog.LevelError),
		gate, resolver, exec, journal)

	done := make(chan error, 1)
	go func() { done <- sess.Keep(context.Background()) }()

	t.Cleanup(func() {
		client.Close()
		sess.Close()
	})
	return client, done
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	assert.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func TestSessionGreetsAndAnswers(t *testing.T) {
	client, _ := startSession(t, SessionOptions{}, allowAll{}, testResolver(t, "abc\ndef\n"), nil)
	r := bufio.NewReader(client)

	assert.Equal(t, Greeting, readLine(t, r))

	client.Write([]byte("abc"))
	assert.Equal(t, RespExists, readLine(t, r))

	client.Write([]byte("xyz"))
	assert.Equal(t, RespNotFound, readLine(t, r))
}

func TestSessionLineNumbers(t *testing.T) {
	client, _ := startSession(t, SessionOptions{WithLineNum: true}, allowAll{}, testResolver(t, "abc\ndef\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r) // greeting

	client.Write([]byte("def"))
	assert.Equal(t, "STRING EXISTS, LINE 2", readLine(t, r))
}

func TestSessionEmptyQueryKeepsSessionOpen(t *testing.T) {
	client, _ := startSession(t, SessionOptions{}, allowAll{}, testResolver(t, "abc\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Write([]byte("   \t  "))
	assert.Equal(t, RespEmptyQuery, readLine(t, r))

	// still alive
	client.Write([]byte("abc"))
	assert.Equal(t, RespExists, readLine(t, r))
}

func TestSessionExitKeywords(t *testing.T) {
	for _, kw := range []string{"exit", "quit", "EXIT", "Quit"} {
		client, done := startSession(t, SessionOptions{}, allowAll{}, testResolver(t, "abc\n"), nil)
		r := bufio.NewReader(client)
		readLine(t, r)

		client.Write([]byte(kw))
		assert.Equal(t, Farewell, readLine(t, r))

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatalf("session did not close on %q", kw)
		}
	}
}

func TestSessionQueryLengthBoundary(t *testing.T) {
	client, _ := startSession(t, SessionOptions{MaxQueryLen: 8}, allowAll{}, testResolver(t, "abcdefgh\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	// exactly at the limit: accepted
	client.Write([]byte("abcdefgh"))
	assert.Equal(t, RespExists, readLine(t, r))

	// one byte longer: rejected, session stays open
	client.Write([]byte("abcdefghi"))
	assert.Equal(t, RespTooLong, readLine(t, r))

	client.Write([]byte("abcdefgh"))
	assert.Equal(t, RespExists, readLine(t, r))
}

func TestSessionOversizeFrameForfeits(t *testing.T) {
	sink := &journalSink{}
	client, done := startSession(t, SessionOptions{MaxFrame: 16}, allowAll{}, testResolver(t, "abc\n"), sink)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Write(make([]byte, 17))
	assert.Equal(t, RespOversize, readLine(t, r))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session survived an oversize frame")
	}
}

func TestSessionBadEncodingForfeits(t *testing.T) {
	client, done := startSession(t, SessionOptions{}, allowAll{}, testResolver(t, "abc\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Write([]byte{0xff, 0xfe, 0xfd})
	assert.Equal(t, RespBadEncoding, readLine(t, r))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session survived an undecodable frame")
	}
}

func TestSessionStripsNulPadding(t *testing.T) {
	client, _ := startSession(t, SessionOptions{}, allowAll{}, testResolver(t, "abc\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Write(append([]byte("abc"), 0, 0, 0))
	assert.Equal(t, RespExists, readLine(t, r))
}

func TestSessionRateLimited(t *testing.T) {
	sink := &journalSink{}
	client, _ := startSession(t, SessionOptions{}, denyAll{}, testResolver(t, "abc\n"), sink)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Write([]byte("abc"))
	assert.Equal(t, RespRateLimited, readLine(t, r))

	e, ok := sink.last()
	assert.True(t, ok)
	assert.Equal(t, RespRateLimited, e.Response)
	assert.Equal(t, "abc", e.Query)
}

func TestSessionFileGone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")
	resolver := index.NewResolver(path, true, utils.NewDefaultLogger(slog.LevelError))

	client, _ := startSession(t, SessionOptions{}, allowAll{}, resolver, nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Write([]byte("abc"))
	assert.Equal(t, RespFileMissing, readLine(t, r))

	// resource errors are per query, not per session
	client.Write([]byte("abc"))
	assert.Equal(t, RespFileMissing, readLine(t, r))
}

func TestSessionIdleTimeout(t *testing.T) {
	client, done := startSession(t, SessionOptions{IdleTimeout: 50 * time.Millisecond}, allowAll{}, testResolver(t, "abc\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	// say nothing and wait for the unilateral close
	line, err := r.ReadString('\n')
	if err == nil {
		assert.Contains(t, line, "idle")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("idle session was not closed")
	}

	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionPeerDisconnect(t *testing.T) {
	client, done := startSession(t, SessionOptions{}, allowAll{}, testResolver(t, "abc\n"), nil)
	r := bufio.NewReader(client)
	readLine(t, r)

	client.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session survived peer disconnect")
	}
}

func TestIsExit(t *testing.T) {
	assert.True(t, IsExit("exit"))
	assert.True(t, IsExit("QUIT"))
	assert.False(t, IsExit("exit now"))
	assert.False(t, IsExit("abc"))
}

func TestRenderOutcome(t *testing.T) {
	assert.Equal(t, RespExists, RenderOutcome(search.Outcome{Result: search.Found, Line: 3}, false))
	assert.Equal(t, "STRING EXISTS, LINE 3", RenderOutcome(search.Outcome{Result: search.Found, Line: 3}, true))
	assert.Equal(t, RespNotFound, RenderOutcome(search.Outcome{Result: search.NotFound}, true))
	assert.Equal(t, RespTimeout, RenderOutcome(search.Outcome{Result: search.Timeout}, false))
}

func TestRenderError(t *testing.T) {
	assert.Equal(t, RespFileMissing, RenderError(index.ErrFileNotFound))
	assert.Equal(t, "ERROR: "+index.ErrDecode.Error(), RenderError(index.ErrDecode))
	assert.Equal(t, "ERROR: "+index.ErrPermissionDenied.Error(), RenderError(index.ErrPermissionDenied))
}
