package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MbeleckBerle/ssl-server/index"
	"github.com/MbeleckBerle/ssl-server/search"
)

// The wire protocol is line-oriented text: one greeting on connect, one
// query per message, exactly one newline-terminated response line per
// accepted query.
const (
	Greeting = "Hello, you are connected to the server!"
	Farewell = "Goodbye!"

	RespExists      = "STRING EXISTS"
	RespNotFound    = "STRING NOT FOUND"
	RespEmptyQuery  = "ERROR: EMPTY QUERY"
	RespFileMissing = "ERROR: FILE NOT FOUND"
	RespTooLong     = "ERROR: QUERY TOO LONG"
	RespTimeout     = "ERROR: TIMEOUT"
	RespRateLimited = "ERROR: RATE LIMIT EXCEEDED"
	RespOversize    = "ERROR: Input data too large."
	RespBadEncoding = "ERROR: Unable to decode input."
)

// IsExit reports whether the query is one of the session-closing
// keywords, case-insensitively.
func IsExit(query string) bool {
	switch strings.ToLower(query) {
	case "exit", "quit":
		return true
	}
	return false
}

// RenderOutcome serializes a search outcome to its response line.
// Line numbers are reported only when the caller asked for them.
func RenderOutcome(out search.Outcome, withLine bool) string {
	switch out.Result {
	case search.Found:
		if withLine {
			return fmt.Sprintf("%s, LINE %d", RespExists, out.Line)
		}
		return RespExists
	case search.NotFound:
		return RespNotFound
	default:
		return RespTimeout
	}
}

// RenderError maps a resolve failure to its stable single-line form.
// Unknown failures fall through to the generic "ERROR: <detail>" shape;
// never a stack trace.
func RenderError(err error) string {
	if errors.Is(err, index.ErrFileNotFound) {
		return RespFileMissing
	}
	return "ERROR: " + err.Error()
}
