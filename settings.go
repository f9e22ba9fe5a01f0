package sslserver

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Settings is the full configuration surface, loaded once at startup
// and immutable for the process lifetime. Components receive it (or
// the slice of it they need) at construction; nothing reads mutable
// process-wide state.
type Settings struct {
	Host string
	Port int

	// Path of the reference file ("linuxpath" in the INI, matching the
	// historical config key).
	Path string
	// Rebuild the snapshot from disk on every query instead of serving
	// the cached one.
	RereadOnQuery bool

	SSLEnabled bool
	CertFile   string
	KeyFile    string

	MaxQueryLen int
	MaxFrame    int

	RateLimit  int
	RateWindow time.Duration

	IdleTimeout  time.Duration
	SearchBudget time.Duration

	// Linear scan mirrors the original per-line search; off means the
	// constant-time set probe. Both answer identically.
	LinearScan  bool
	WithLineNum bool
	MaxScans    int64

	// 0 disables the session cap / the accept throttle.
	MaxSessions int64
	AcceptRate  float64

	LogFile     string
	MetricsAddr string
}

func (s *Settings) SetDefaults() {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 44445
	}
	if s.MaxQueryLen == 0 {
		s.MaxQueryLen = 512
	}
	if s.MaxFrame == 0 {
		s.MaxFrame = 1024
	}
	if s.RateLimit == 0 {
		s.RateLimit = 100
	}
	if s.RateWindow == 0 {
		s.RateWindow = time.Minute
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 5 * time.Minute
	}
	if s.SearchBudget == 0 {
		s.SearchBudget = 40 * time.Millisecond
	}
	if s.MaxScans == 0 {
		s.MaxScans = 128
	}
	if s.LogFile == "" {
		s.LogFile = "server_log.txt"
	}
}

func (s *Settings) Validate() error {
	if s.Path == "" {
		return ErrNoReferenceFile
	}
	if s.SSLEnabled && (s.CertFile == "" || s.KeyFile == "") {
		return ErrNoCertConfigured
	}
	return nil
}

// ListenURL renders the address for the listener, scheme included.
func (s *Settings) ListenURL() string {
	scheme := "tcp"
	if s.SSLEnabled {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// LoadSettings reads the INI configuration file. Key names follow the
// historical config.ini of this service: linuxpath, REREAD_ON_QUERY,
// SSL_ENABLED, CERTFILE, KEYFILE, plus the numeric limits.
func LoadSettings(path string) (Settings, error) {
	var s Settings

	cfg, err := ini.Load(path)
	if err != nil {
		return s, errors.Wrapf(err, "settings: load %q", path)
	}

	sec := cfg.Section(ini.DefaultSection)

	s.Host = sec.Key("HOST").MustString("")
	s.Port = sec.Key("PORT").MustInt(0)
	s.Path = sec.Key("linuxpath").MustString(sec.Key("PATH").String())
	s.RereadOnQuery = sec.Key("REREAD_ON_QUERY").MustBool(false)
	s.SSLEnabled = sec.Key("SSL_ENABLED").MustBool(false)
	s.CertFile = sec.Key("CERTFILE").String()
	s.KeyFile = sec.Key("KEYFILE").String()

	s.MaxQueryLen = sec.Key("MAX_QUERY_LEN").MustInt(0)
	s.MaxFrame = sec.Key("MAX_FRAME_SIZE").MustInt(0)
	s.RateLimit = sec.Key("RATE_LIMIT").MustInt(0)
	s.RateWindow = sec.Key("RATE_WINDOW").MustDuration(0)
	s.IdleTimeout = sec.Key("IDLE_TIMEOUT").MustDuration(0)
	s.SearchBudget = sec.Key("SEARCH_BUDGET").MustDuration(0)
	s.LinearScan = sec.Key("LINEAR_SCAN").MustBool(false)
	s.WithLineNum = sec.Key("REPORT_LINE_NUMBERS").MustBool(false)
	s.MaxScans = sec.Key("MAX_SCANS").MustInt64(0)
	s.MaxSessions = sec.Key("MAX_SESSIONS").MustInt64(0)
	s.AcceptRate = sec.Key("ACCEPT_RATE").MustFloat64(0)
	s.LogFile = sec.Key("LOG_FILE").String()
	s.MetricsAddr = sec.Key("METRICS_ADDR").String()

	s.SetDefaults()
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}
