package sslserver

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MbeleckBerle/ssl-server/protocol"
	"github.com/MbeleckBerle/ssl-server/utils"
	"github.com/pkg/errors"
)

// QueryLog is the append-only sink for per-query records. Every entry
// also goes to the process logger, mirroring the original service that
// printed the line and appended it to server_log.txt.
type QueryLog struct {
	mu   sync.Mutex
	file *os.File
	log  utils.Logger
}

func OpenQueryLog(path string, log utils.Logger) (*QueryLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "querylog: open %q", path)
	}
	return &QueryLog{file: f, log: log}, nil
}

func (q *QueryLog) Write(e protocol.JournalEntry) {
	line := fmt.Sprintf("DEBUG: %s, Query: '%s', IP: %s, Time: %.3fms, Result: %s\n",
		e.Time.Format(time.DateTime), e.Query, e.Peer,
		float64(e.Elapsed.Microseconds())/1000.0, e.Response)

	q.log.Debug("query",
		"query", e.Query, "peer", e.Peer,
		"elapsed_ms", float64(e.Elapsed.Microseconds())/1000.0,
		"result", e.Response)

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.file.WriteString(line); err != nil {
		// A broken log sink must not fail the query.
		q.log.Error("querylog: write failed", "err", err)
	}
}

func (q *QueryLog) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.file.Close()
}
