package protocol

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MbeleckBerle/ssl-server/utils"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type ConnType = uint

const (
	TCP ConnType = iota + 1
	TLS
)

var (
	ErrAddressDuplicated = errors.New("address already served")
	ErrAddressUnknown    = errors.New("address unknown")
	ErrAddressInvalid    = errors.New("address invalid")
)

// HandleCallback owns one accepted connection for its whole lifetime;
// when it returns the connection is closed and its pool slot freed.
type HandleCallback func(ctx context.Context, name string, conn net.Conn)

// Net accepts client connections, plain TCP or TLS-wrapped depending
// on the address scheme, and dispatches each to its own goroutine. The
// accept loop itself stays single-threaded. The protocol spoken over
// either transport is identical.
type Net struct {
	closed atomic.Bool

	wg       sync.WaitGroup
	log      utils.Logger
	onConn   HandleCallback
	conns    *xsync.MapOf[string, net.Conn]
	listens  *xsync.MapOf[string, net.Listener]
	pool     *semaphore.Weighted
	throttle *rate.Limiter

	TlsConfig *tls.Config
}

type NetOpt interface {
	Apply(n *Net)
}

type NetTlsConfigOpt struct {
	Config *tls.Config
}

func (o *NetTlsConfigOpt) Apply(n *Net) { n.TlsConfig = o.Config }

// NetPoolOpt caps concurrent sessions. When the pool is saturated the
// accept loop blocks before calling Accept, pushing backpressure down
// to the TCP listen backlog instead of spawning unbounded sessions.
type NetPoolOpt struct {
	MaxSessions int64
}

func (o *NetPoolOpt) Apply(n *Net) {
	if o.MaxSessions > 0 {
		n.pool = semaphore.NewWeighted(o.MaxSessions)
	}
}

// NetAcceptRateOpt throttles the global accept rate.
type NetAcceptRateOpt struct {
	PerSecond float64
	Burst     int
}

func (o *NetAcceptRateOpt) Apply(n *Net) {
	if o.PerSecond > 0 {
		burst := o.Burst
		if burst < 1 {
			burst = 1
		}
		n.throttle = rate.NewLimiter(rate.Limit(o.PerSecond), burst)
	}
}

func NewNet(log utils.Logger, onConn HandleCallback, opts ...NetOpt) *Net {
	n := &Net{
		log:     log,
		onConn:  onConn,
		conns:   xsync.NewMapOf[string, net.Conn](),
		listens: xsync.NewMapOf[string, net.Listener](),
	}
	for _, o := range opts {
		o.Apply(n)
	}
	return n
}

func (n *Net) Close() error {
	n.closed.Store(true)

	n.listens.Range(func(_ string, l net.Listener) bool {
		l.Close()
		return true
	})
	n.listens.Clear()

	n.conns.Range(func(_ string, c net.Conn) bool {
		c.Close()
		return true
	})
	n.conns.Clear()

	n.wg.Wait()
	return nil
}

func (n *Net) Listen(ctx context.Context, addr string) error {
	// nil is needed so that Listen cannot be called twice for the same
	// address while the listener is still being created.
	if _, ok := n.listens.LoadOrStore(addr, nil); ok {
		return ErrAddressDuplicated
	}

	listener, err := n.createListener(ctx, addr)
	if err != nil {
		n.listens.Delete(addr)
		return err
	}
	n.listens.Store(addr, listener)

	n.log.Info("net: listening", "addr", addr)

	n.wg.Add(1)
	go func() {
		n.KeepListening(ctx, addr)
		n.wg.Done()
	}()

	return nil
}

func (n *Net) Unlisten(addr string) error {
	listener, ok := n.listens.LoadAndDelete(addr)
	if !ok {
		return ErrAddressUnknown
	}
	return listener.Close()
}

// Addr reports the bound address of a live listener, useful when the
// configured port was 0.
func (n *Net) Addr(addr string) (net.Addr, bool) {
	l, ok := n.listens.Load(addr)
	if !ok || l == nil {
		return nil, false
	}
	return l.Addr(), true
}

func (n *Net) KeepListening(ctx context.Context, addr string) {
	for !n.closed.Load() {
		select {
		case <-ctx.Done():
			break
		default:
			// continue
		}

		listener, ok := n.listens.Load(addr)
		if !ok {
			break
		}

		if n.throttle != nil {
			if err := n.throttle.Wait(ctx); err != nil {
				break
			}
		}
		if n.pool != nil {
			if err := n.pool.Acquire(ctx, 1); err != nil {
				break
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if n.pool != nil {
				n.pool.Release(1)
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}

			// reconnects are the client's problem, just continue
			n.log.Error("net: couldn't accept request", "addr", addr, "err", err)
			continue
		}

		remoteAddr := conn.RemoteAddr().String()
		name := fmt.Sprintf("%s:%s", uuid.Must(uuid.NewV7()).String(), remoteAddr)
		n.log.Info("net: accept connection", "addr", addr, "remoteAddr", remoteAddr, "session", name)

		n.conns.Store(name, conn)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if n.pool != nil {
				defer n.pool.Release(1)
			}
			defer conn.Close()
			defer n.conns.Delete(name)

			n.onConn(ctx, name, conn)
		}()
	}

	if l, ok := n.listens.LoadAndDelete(addr); ok && l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			n.log.Error("net: couldn't correctly close listener", "addr", addr, "err", err)
		}
	}

	n.log.Info("net: listener closed", "addr", addr)
}

// SessionCount reports live sessions, for stats collection.
func (n *Net) SessionCount() int {
	return n.conns.Size()
}

func (n *Net) createListener(ctx context.Context, addr string) (net.Listener, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	var listener net.Listener
	switch connType {
	case TCP:
		config := net.ListenConfig{}
		if listener, err = config.Listen(ctx, "tcp", address); err != nil {
			return nil, err
		}

	case TLS:
		config := net.ListenConfig{}
		if listener, err = config.Listen(ctx, "tcp", address); err != nil {
			return nil, err
		}

		listener = tls.NewListener(listener, n.TlsConfig)
	}

	return listener, nil
}

// Dial opens a client connection to addr, speaking TLS when the
// scheme asks for it. The interactive client and the tests use it.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	connType, address, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	switch connType {
	case TLS:
		d := tls.Dialer{Config: tlsConfig}
		return d.DialContext(ctx, "tcp", address)
	default:
		d := net.Dialer{Timeout: time.Minute}
		return d.DialContext(ctx, "tcp", address)
	}
}

func parseAddr(addr string) (ConnType, string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return TCP, "", err
	}

	var conn ConnType

	switch u.Scheme {
	case "", "tcp", "tcp4", "tcp6":
		conn = TCP
	case "tls":
		conn = TLS
	default:
		return conn, addr, ErrAddressInvalid
	}

	u.Scheme = ""
	address := strings.TrimPrefix(u.String(), "//")

	return conn, address, nil
}
