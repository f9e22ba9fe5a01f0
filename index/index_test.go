package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeRef(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ref.txt")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuild(t *testing.T) {
	path := writeRef(t, "abc\ndef\n  ghi  \nabc\n")

	idx, err := Build(path)
	assert.NoError(t, err)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, path, idx.Path)
	assert.NotZero(t, idx.Fingerprint)

	num, ok := idx.Lookup("abc")
	assert.True(t, ok)
	assert.Equal(t, int32(1), num) // first occurrence wins

	num, ok = idx.Lookup("ghi")
	assert.True(t, ok)
	assert.Equal(t, int32(3), num) // stored trimmed

	_, ok = idx.Lookup("xyz")
	assert.False(t, ok)
}

func TestBuildTrimsQuerySide(t *testing.T) {
	path := writeRef(t, "abc\n")

	idx, err := Build(path)
	assert.NoError(t, err)

	num, ok := idx.Lookup("  abc  ")
	assert.True(t, ok)
	assert.Equal(t, int32(1), num)

	// substring is not a match
	_, ok = idx.Lookup("ab")
	assert.False(t, ok)
	_, ok = idx.Scan("ab")
	assert.False(t, ok)
}

func TestLookupScanEquivalence(t *testing.T) {
	path := writeRef(t, "alpha\nbeta\ngamma\nbeta\n\ndelta\n")

	idx, err := Build(path)
	assert.NoError(t, err)

	for _, q := range []string{"alpha", "beta", "gamma", "delta", "", "epsilon", " beta ", "bet"} {
		ln, lok := idx.Lookup(q)
		sn, sok := idx.Scan(q)
		assert.Equal(t, lok, sok, "query %q", q)
		assert.Equal(t, ln, sn, "query %q", q)
	}
}

func TestBuildFileNotFound(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestBuildPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file modes")
	}
	path := writeRef(t, "abc\n")
	assert.NoError(t, os.Chmod(path, 0o000))

	_, err := Build(path)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestBuildRejectsInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.txt")
	assert.NoError(t, os.WriteFile(path, []byte{'a', 0xff, 0xfe, '\n'}, 0o644))

	_, err := Build(path)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFingerprintTracksContent(t *testing.T) {
	a, err := Build(writeRef(t, "abc\n"))
	assert.NoError(t, err)
	b, err := Build(writeRef(t, "abc\n"))
	assert.NoError(t, err)
	c, err := Build(writeRef(t, "abd\n"))
	assert.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}
