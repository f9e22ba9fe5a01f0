package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/MbeleckBerle/ssl-server/index"
	"github.com/MbeleckBerle/ssl-server/search"
	"github.com/MbeleckBerle/ssl-server/utils"
)

// Gate decides whether a client identity may run one more query.
type Gate interface {
	Allow(identity string) bool
}

// JournalEntry is what the server's query log consumes, one per
// completed query.
type JournalEntry struct {
	Time     time.Time
	Query    string
	Peer     string
	Elapsed  time.Duration
	Response string
}

type Journal func(JournalEntry)

type SessionOptions struct {
	MaxQueryLen int
	MaxFrame    int
	IdleTimeout time.Duration
	WriteWait   time.Duration
	// Report the matched line number in STRING EXISTS responses.
	WithLineNum bool
}

func (o *SessionOptions) SetDefaults() {
	if o.MaxQueryLen == 0 {
		o.MaxQueryLen = 512
	}
	if o.MaxFrame == 0 {
		o.MaxFrame = 1024
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.WriteWait == 0 {
		o.WriteWait = 10 * time.Second
	}
}

// Session owns one client connection and walks it through the protocol
// state machine: greeting, then a query/response loop until an exit
// keyword, an idle timeout, a framing error, or a disconnect. Within a
// session one query fully completes, response write included, before
// the next frame is read, so responses are strictly in request order.
type Session struct {
	closed atomic.Bool

	conn net.Conn
	name string
	peer string // addr:port as reported by the transport

	opts     SessionOptions
	log      utils.Logger
	gate     Gate
	resolver *index.Resolver
	exec     *search.Executor
	journal  Journal
}

func NewSession(conn net.Conn, name string, opts SessionOptions, log utils.Logger,
	gate Gate, resolver *index.Resolver, exec *search.Executor, journal Journal) *Session {
	opts.SetDefaults()
	return &Session{
		conn:     conn,
		name:     name,
		peer:     conn.RemoteAddr().String(),
		opts:     opts,
		log:      log,
		gate:     gate,
		resolver: resolver,
		exec:     exec,
		journal:  journal,
	}
}

// Identity is the rate-limit key: the client host without the port, so
// reconnecting does not grant a fresh window.
func (s *Session) Identity() string {
	if host, _, err := net.SplitHostPort(s.peer); err == nil {
		return host
	}
	return s.peer
}

func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.conn.Close()
	}
}

// Keep runs the session to completion. It returns nil on every
// protocol-level ending (exit keyword, idle timeout, peer disconnect,
// forfeited session); only unexpected transport failures surface as
// errors, and no error ever escapes past the caller's log line.
func (s *Session) Keep(ctx context.Context) error {
	ctx = utils.WithDefaultArgs(ctx, "session", s.name, "peer", s.peer)
	defer s.Close()

	if err := s.send(Greeting); err != nil {
		return err
	}
	s.log.DebugCtx(ctx, "session: greeted")

	// One extra byte so an over-limit frame is distinguishable from one
	// that exactly fills the limit.
	buf := make([]byte, s.opts.MaxFrame+1)

	for !s.closed.Load() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			return err
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				// Best effort: the peer may already be gone.
				_ = s.send("ERROR: connection idle, closing")
				s.log.InfoCtx(ctx, "session: closed idle connection")
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.log.DebugCtx(ctx, "session: peer disconnected")
				return nil
			}
			s.log.WarnCtx(ctx, "session: read failed", "err", err)
			return nil
		}

		if n > s.opts.MaxFrame {
			_ = s.send(RespOversize)
			s.log.WarnCtx(ctx, "session: oversize frame, forfeiting", "bytes", n)
			return nil
		}

		// The original transport padded frames with NULs; strip them
		// before decoding.
		data := bytes.TrimRight(buf[:n], "\x00")
		if !utf8.Valid(data) {
			_ = s.send(RespBadEncoding)
			s.log.WarnCtx(ctx, "session: undecodable frame, forfeiting")
			return nil
		}

		query := strings.TrimSpace(string(data))
		switch {
		case query == "":
			if err := s.answer(query, RespEmptyQuery, 0); err != nil {
				return err
			}
			continue
		case IsExit(query):
			_ = s.send(Farewell)
			s.log.InfoCtx(ctx, "session: client said goodbye")
			return nil
		case len(query) > s.opts.MaxQueryLen:
			if err := s.answer(query, RespTooLong, 0); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		resp := s.process(ctx, query)
		if err := s.answer(query, resp, time.Since(start)); err != nil {
			return err
		}
	}

	return nil
}

// process runs one validated query through the gate, the resolver and
// the executor, producing the response line.
func (s *Session) process(ctx context.Context, query string) string {
	if !s.gate.Allow(s.Identity()) {
		return RespRateLimited
	}

	idx, err := s.resolver.Resolve(ctx)
	if err != nil {
		s.log.WarnCtx(ctx, "session: resolve failed", "err", err)
		return RenderError(err)
	}

	return RenderOutcome(s.exec.Execute(ctx, idx, query), s.opts.WithLineNum)
}

func (s *Session) answer(query, resp string, elapsed time.Duration) error {
	if s.journal != nil {
		s.journal(JournalEntry{
			Time:     time.Now(),
			Query:    query,
			Peer:     s.peer,
			Elapsed:  elapsed,
			Response: resp,
		})
	}
	return s.send(resp)
}

func (s *Session) send(line string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)); err != nil {
		return err
	}
	_, err := s.conn.Write([]byte(line + "\n"))
	return err
}
