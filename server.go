// Package sslserver is a line-protocol search service: clients hold a
// persistent TCP or TLS connection and ask whether an exact line of
// text exists in the configured reference file.
package sslserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MbeleckBerle/ssl-server/index"
	"github.com/MbeleckBerle/ssl-server/limiter"
	"github.com/MbeleckBerle/ssl-server/protocol"
	"github.com/MbeleckBerle/ssl-server/search"
	"github.com/MbeleckBerle/ssl-server/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ErrNoReferenceFile  = errors.New("settings: no reference file configured")
	ErrNoCertConfigured = errors.New("settings: SSL enabled but certificate or key path missing")
)

// Server wires the components together and owns their lifecycle:
// settings in, one listener out, a session per client, the snapshot
// resolver and rate limiter shared across all of them.
type Server struct {
	log      utils.Logger
	settings Settings

	resolver *index.Resolver
	exec     *search.Executor
	gate     *limiter.Limiter
	net      *protocol.Net
	journal  *QueryLog
	latency  *utils.RunningAvg

	registry   *prometheus.Registry
	metricsSrv *http.Server
	sweepStop  chan struct{}
	started    time.Time
}

func NewServer(settings Settings, log utils.Logger) (*Server, error) {
	settings.SetDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	journal, err := OpenQueryLog(settings.LogFile, log)
	if err != nil {
		return nil, err
	}

	strategy := search.Hashed
	if settings.LinearScan {
		strategy = search.Linear
	}

	srv := &Server{
		log:       log,
		settings:  settings,
		resolver:  index.NewResolver(settings.Path, settings.RereadOnQuery, log),
		exec:      search.NewExecutor(settings.SearchBudget, strategy, settings.MaxScans),
		gate:      limiter.New(settings.RateLimit, settings.RateWindow),
		journal:   journal,
		latency:   &utils.RunningAvg{},
		sweepStop: make(chan struct{}),
	}
	srv.resolver.OnBuild(IndexRebuilds.Inc)

	netOpts := []protocol.NetOpt{
		&protocol.NetPoolOpt{MaxSessions: settings.MaxSessions},
		&protocol.NetAcceptRateOpt{PerSecond: settings.AcceptRate},
	}
	if settings.SSLEnabled {
		tlsConf, err := LoadTLSConfig(settings.CertFile, settings.KeyFile)
		if err != nil {
			journal.Close()
			return nil, err
		}
		netOpts = append(netOpts, &protocol.NetTlsConfigOpt{Config: tlsConf})
	}
	srv.net = protocol.NewNet(log, srv.handleConn, netOpts...)

	srv.registry = prometheus.NewRegistry()
	srv.registry.MustRegister(QueryCount, QueryDuration, IndexRebuilds, SessionsOpened)
	srv.registry.MustRegister(NewStatsCollector(srv))

	return srv, nil
}

// Listen binds the configured address and starts serving. It returns
// once the listener is up; sessions run on their own goroutines.
func (s *Server) Listen(ctx context.Context) error {
	s.started = time.Now()

	if err := s.net.Listen(ctx, s.settings.ListenURL()); err != nil {
		return err
	}

	go s.keepSweeping()

	if s.settings.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		s.metricsSrv = &http.Server{Addr: s.settings.MetricsAddr, Handler: mux}
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("server: metrics listener failed", "err", err)
			}
		}()
	}

	return nil
}

// Addr reports the bound listener address, useful when the configured
// port was 0.
func (s *Server) Addr() (net.Addr, bool) {
	return s.net.Addr(s.settings.ListenURL())
}

// Invalidate drops the cached snapshot; the next query rebuilds it.
func (s *Server) Invalidate() {
	s.resolver.Invalidate()
}

func (s *Server) Close() error {
	close(s.sweepStop)
	err := s.net.Close()
	if s.metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metricsSrv.Shutdown(sctx)
	}
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, name string, conn net.Conn) {
	SessionsOpened.Inc()

	sess := protocol.NewSession(conn, name, protocol.SessionOptions{
		MaxQueryLen: s.settings.MaxQueryLen,
		MaxFrame:    s.settings.MaxFrame,
		IdleTimeout: s.settings.IdleTimeout,
		WithLineNum: s.settings.WithLineNum,
	}, s.log, s.gate, s.resolver, s.exec, s.record)

	if err := sess.Keep(ctx); err != nil {
		// Session failures stay inside the session; the listener keeps
		// serving everyone else.
		s.log.Error("server: session ended with error", "session", name, "err", err)
	}
}

func (s *Server) record(e protocol.JournalEntry) {
	s.journal.Write(e)

	label := resultLabel(e.Response)
	ms := float64(e.Elapsed.Microseconds()) / 1000.0
	QueryCount.WithLabelValues(label).Inc()
	QueryDuration.WithLabelValues(label).Observe(ms)
	s.latency.Observe(ms)
}

func (s *Server) keepSweeping() {
	ticker := time.NewTicker(s.settings.RateWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.gate.Sweep()
		case <-s.sweepStop:
			return
		}
	}
}

func resultLabel(response string) string {
	switch {
	case strings.HasPrefix(response, protocol.RespExists):
		return "exists"
	case response == protocol.RespNotFound:
		return "not_found"
	case response == protocol.RespTimeout:
		return "timeout"
	case response == protocol.RespRateLimited:
		return "rate_limited"
	case response == protocol.RespEmptyQuery:
		return "empty"
	case response == protocol.RespTooLong:
		return "too_long"
	default:
		return "error"
	}
}
