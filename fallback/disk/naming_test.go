package disk

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashedNaming(t *testing.T) {
	naming := Hashed[string]()
	a := naming.FileName("https://example.com/a?b=c")
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), a)
	assert.Equal(t, a, naming.FileName("https://example.com/a?b=c"))
	assert.NotEqual(t, a, naming.FileName("https://example.com/a?b=d"))
}

func TestReadableNaming(t *testing.T) {
	naming := Readable[string]()
	name := naming.FileName("user/42 öz")
	assert.Regexp(t, regexp.MustCompile(`^user_42__z-[0-9a-f]{8}$`), name)

	assert.NotEqual(t, naming.FileName("a/b"), naming.FileName("a:b"), "keys sanitizing alike must not collide")

	long := naming.FileName(strings.Repeat("x", 500))
	assert.LessOrEqual(t, len(long), maxReadableLen+9)
	assert.NoError(t, validateFileName(long))
}

func TestKeyAsFileName(t *testing.T) {
	assert.Equal(t, "42", KeyAsFileName[int]().FileName(42))
}

func TestResolverRejectsInvalidNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"", ".", "..", "a/b", "x" + LockSuffix, "snapshot.1700000000.abcdefghij", "k.1700000000123.0123456789"} {
		r := NewResolver[string](dir, NamingFunc[string](func(string) string { return name }))
		_, err := r.Resolve("key")
		assert.True(t, errors.Is(err, ErrInvalidFileName), "name %q", name)
	}
}

func TestResolverPlacesFilesInDir(t *testing.T) {
	dir := t.TempDir()
	r := NewResolver[string](dir, KeyAsFileName[string]())
	f, err := r.Resolve("k")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "k"), f.Path())
	assert.Equal(t, filepath.Join(dir, "k"+LockSuffix), f.Lock().LockPath())
	assert.Equal(t, dir, r.Dir())

	again, err := r.Resolve("k")
	require.NoError(t, err)
	assert.NotSame(t, f, again, "every resolution yields a fresh instance")
}
