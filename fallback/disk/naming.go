package disk

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// ErrInvalidFileName is returned when a naming strategy produces a name which
// can not be used as a fallback file in the fallback directory.
var ErrInvalidFileName = errors.New("invalid fallback file name")

// NamingStrategy maps a cache key to the name of its fallback file. Distinct
// keys must map to distinct names; this is not checked. Names should avoid
// special characters, ideally matching [a-zA-Z0-9_-]+.
type NamingStrategy[K any] interface {
	FileName(key K) string
}

// NamingFunc adapts a function into a NamingStrategy.
type NamingFunc[K any] func(key K) string

func (f NamingFunc[K]) FileName(key K) string {
	return f(key)
}

// KeyAsFileName uses the key's default string form as the file name. Only use
// it for keys known to be file system safe.
func KeyAsFileName[K any]() NamingStrategy[K] {
	return NamingFunc[K](func(key K) string {
		return fmt.Sprint(key)
	})
}

// Hashed names files by the hex xxhash64 of the key's string form. Names are
// always safe and of fixed length, but not readable.
func Hashed[K any]() NamingStrategy[K] {
	return NamingFunc[K](func(key K) string {
		return hashKey(fmt.Sprint(key))
	})
}

const maxReadableLen = 64

// Readable keeps the key recognisable: every character outside
// [a-zA-Z0-9_-] becomes '_', long keys are truncated, and a short hash of the
// original key is appended so keys that sanitize alike still get distinct names.
func Readable[K any]() NamingStrategy[K] {
	return NamingFunc[K](func(key K) string {
		s := fmt.Sprint(key)
		var b strings.Builder
		for _, r := range s {
			if b.Len() >= maxReadableLen {
				break
			}
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				b.WriteRune(r)
			default:
				b.WriteByte('_')
			}
		}
		return b.String() + "-" + hashKey(s)[:8]
	})
}

func hashKey(s string) string {
	h := strconv.FormatUint(xxhash.Sum64String(s), 16)
	return strings.Repeat("0", 16-len(h)) + h
}

func validateFileName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return errors.Wrapf(ErrInvalidFileName, "%q", name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, filepath.Separator):
		return errors.Wrapf(ErrInvalidFileName, "%q contains a path separator", name)
	case strings.ContainsRune(name, 0):
		return errors.Wrapf(ErrInvalidFileName, "%q contains a NUL byte", name)
	case strings.HasSuffix(name, LockSuffix):
		return errors.Wrapf(ErrInvalidFileName, "%q ends with the reserved lock suffix %s", name, LockSuffix)
	case tempFilePattern.MatchString(name):
		return errors.Wrapf(ErrInvalidFileName, "%q would be taken for a temp file of an uncommitted write", name)
	}
	return nil
}
