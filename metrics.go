package sslserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var QueryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sslserver",
	Subsystem: "queries",
	Name:      "total",
}, []string{"result"})

var QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "sslserver",
	Subsystem: "queries",
	Name:      "duration_ms",
	Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 20, 50, 100},
}, []string{"result"})

var IndexRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "sslserver",
	Subsystem: "index",
	Name:      "rebuilds_total",
})

var SessionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "sslserver",
	Subsystem: "sessions",
	Name:      "opened_total",
})

// StatsCollector exports gauges read off the live server: snapshot
// shape, limiter population, session count, mean query latency.
type StatsCollector struct {
	srv *Server

	indexLines     *prometheus.Desc
	indexBytes     *prometheus.Desc
	indexAge       *prometheus.Desc
	trackedClients *prometheus.Desc
	activeSessions *prometheus.Desc
	avgLatency     *prometheus.Desc
	uptime         *prometheus.Desc
}

func NewStatsCollector(srv *Server) *StatsCollector {
	return &StatsCollector{
		srv: srv,

		indexLines: prometheus.NewDesc(
			"sslserver_index_lines",
			"Number of lines in the cached snapshot",
			nil, nil,
		),
		indexBytes: prometheus.NewDesc(
			"sslserver_index_bytes",
			"Byte size of the cached snapshot's source",
			nil, nil,
		),
		indexAge: prometheus.NewDesc(
			"sslserver_index_age_seconds",
			"Seconds since the cached snapshot was built",
			nil, nil,
		),
		trackedClients: prometheus.NewDesc(
			"sslserver_limiter_tracked_clients",
			"Client identities currently holding a rate window",
			nil, nil,
		),
		activeSessions: prometheus.NewDesc(
			"sslserver_sessions_active",
			"Currently open client sessions",
			nil, nil,
		),
		avgLatency: prometheus.NewDesc(
			"sslserver_query_latency_avg_ms",
			"Cumulative mean query latency in milliseconds",
			nil, nil,
		),
		uptime: prometheus.NewDesc(
			"sslserver_uptime_seconds",
			"Seconds since the server started",
			nil, nil,
		),
	}
}

func (sc *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.indexLines
	ch <- sc.indexBytes
	ch <- sc.indexAge
	ch <- sc.trackedClients
	ch <- sc.activeSessions
	ch <- sc.avgLatency
	ch <- sc.uptime
}

func (sc *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if idx, ok := sc.srv.resolver.Cached(); ok {
		ch <- prometheus.MustNewConstMetric(
			sc.indexLines,
			prometheus.GaugeValue,
			float64(idx.Len()),
		)
		ch <- prometheus.MustNewConstMetric(
			sc.indexBytes,
			prometheus.GaugeValue,
			float64(idx.ByteSize),
		)
		ch <- prometheus.MustNewConstMetric(
			sc.indexAge,
			prometheus.GaugeValue,
			time.Since(idx.BuiltAt).Seconds(),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		sc.trackedClients,
		prometheus.GaugeValue,
		float64(sc.srv.gate.Tracked()),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.activeSessions,
		prometheus.GaugeValue,
		float64(sc.srv.net.SessionCount()),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.avgLatency,
		prometheus.GaugeValue,
		sc.srv.latency.Val(),
	)
	ch <- prometheus.MustNewConstMetric(
		sc.uptime,
		prometheus.GaugeValue,
		time.Since(sc.srv.started).Seconds(),
	)
}
