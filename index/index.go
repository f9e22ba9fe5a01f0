package index

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrFileNotFound     = errors.New("reference file not found")
	ErrPermissionDenied = errors.New("reference file permission denied")
	ErrDecode           = errors.New("reference file is not valid UTF-8")
)

// Longest reference line we are prepared to index.
const maxLineLen = 1 << 20

type Line struct {
	Num  int32
	Text string
}

// LineIndex is an immutable snapshot of the reference file: the trimmed
// lines in file order plus a set keyed by line text. Once built it is
// read-only and safe for concurrent use; fresh content means a fresh
// snapshot, never mutation.
type LineIndex struct {
	Path        string
	BuiltAt     time.Time
	Fingerprint uint64
	ByteSize    int64

	lines []Line
	set   map[string]int32
}

// Build streams the file at path into a new snapshot. Lines are trimmed
// of surrounding whitespace; the first occurrence wins for duplicate
// lines. Fingerprint covers the raw file bytes.
func Build(path string) (*LineIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, ErrFileNotFound
		case errors.Is(err, fs.ErrPermission):
			return nil, ErrPermissionDenied
		default:
			return nil, pkgerrors.Wrap(err, "index: open")
		}
	}
	defer f.Close()

	idx := &LineIndex{
		Path:    path,
		BuiltAt: time.Now(),
		set:     make(map[string]int32),
	}

	hash := xxhash.New()
	scan := bufio.NewScanner(io.TeeReader(f, hash))
	scan.Buffer(make([]byte, 64*1024), maxLineLen)

	var num int32
	for scan.Scan() {
		raw := scan.Bytes()
		if !utf8.Valid(raw) {
			return nil, ErrDecode
		}
		num++
		text := strings.TrimSpace(string(raw))
		idx.lines = append(idx.lines, Line{Num: num, Text: text})
		if _, seen := idx.set[text]; !seen {
			idx.set[text] = num
		}
		idx.ByteSize += int64(len(raw)) + 1
	}
	if err := scan.Err(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, pkgerrors.Wrap(err, "index: read")
	}

	idx.Fingerprint = hash.Sum64()
	return idx, nil
}

// Lookup answers a trimmed-line membership query through the set,
// returning the 1-based line number of the first occurrence.
func (idx *LineIndex) Lookup(query string) (int32, bool) {
	num, ok := idx.set[strings.TrimSpace(query)]
	return num, ok
}

// Scan answers the same query by walking the lines in file order.
// Lookup and Scan agree for every input; Scan exists because the
// original service searched linearly and the bounded executor needs a
// strategy whose cost grows with the file.
func (idx *LineIndex) Scan(query string) (int32, bool) {
	query = strings.TrimSpace(query)
	for _, l := range idx.lines {
		if l.Text == query {
			return l.Num, true
		}
	}
	return 0, false
}

func (idx *LineIndex) Len() int {
	return len(idx.lines)
}

// Lines exposes the snapshot content for iteration; callers must not
// mutate the returned slice.
func (idx *LineIndex) Lines() []Line {
	return idx.lines
}
