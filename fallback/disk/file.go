package disk

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	natefinch "github.com/natefinch/atomic"
)

// ErrNotYetWritten is returned when reading a fallback file to which no value
// has ever been committed. This is expected until the primary loader has
// succeeded once, and is distinct from failing to read an existing file.
var ErrNotYetWritten = errors.New("fallback file not yet written")

// File is a single persisted value slot. Values are committed with an atomic
// rename, so readers observe either the previous complete value or the new
// complete value. Instances are cheap and transient: the state of record is
// the file system.
type File struct {
	lock    *LockedFile
	written atomic.Bool
	now     func() int64
	log     logger.Logger
}

func newFile(path string, cfg config) *File {
	f := &File{
		lock: newLockedFile(path, cfg),
		now:  func() int64 { return cfg.now().UnixMilli() },
		log:  cfg.log,
	}
	// anything at path other than nothing at all counts as written, so reading
	// it reports the problem instead of ErrNotYetWritten
	exists, err := statValue(path)
	f.written.Store(exists || err != nil)
	return f
}

// NewFile returns the fallback slot stored at path.
func NewFile(path string, opts ...Option) *File {
	return newFile(path, applyOptions(opts))
}

// Path returns the path of the committed value.
func (f *File) Path() string { return f.lock.Path() }

// Lock returns the lock guarding writes to this slot.
func (f *File) Lock() *LockedFile { return f.lock }

// Written reports whether a value is known to have been committed.
func (f *File) Written() bool { return f.written.Load() }

func (f *File) String() string {
	return "fallback file " + f.Path()
}

// Read opens the committed value. The returned handle keeps reading the value
// it opened even if a writer commits a new one concurrently.
func (f *File) Read() (io.ReadCloser, error) {
	path := f.Path()
	exists, err := statValue(path)
	if err != nil {
		f.written.Store(true)
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if exists {
		f.written.Store(true)
	}
	if !f.written.Load() {
		return nil, errors.Wrapf(ErrNotYetWritten, "%s has not been created yet, which happens until the "+
			"loader has successfully produced a value", path)
	}
	if !exists {
		return nil, errors.Newf("%s not found, even though it is supposed to have been written", path)
	}
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return r, nil
}

// Write returns a Writer to a private temp file. Closing the Writer commits
// the content as the new value; aborting it discards the content.
func (f *File) Write() (*Writer, error) {
	tmp := f.tempPath()
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, errors.Wrapf(err, "temp file %s already exists, temp file names are not unique enough", tmp)
		}
		return nil, errors.Wrapf(err, "create temp file for %s", f.Path())
	}
	return &Writer{file: f, out: out, tmp: tmp}, nil
}

func (f *File) tempPath() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:tempSuffixLen]
	return fmt.Sprintf("%s.%d.%s", f.Path(), f.now(), suffix)
}

const tempSuffixLen = 10

// Writer is the commit-on-close sink returned by File.Write. It is not safe
// for concurrent writes; Close and Abort may be called any number of times
// and only the first call has an effect.
type Writer struct {
	file *File
	out  *os.File
	tmp  string
	once sync.Once
	err  error
}

var _ io.WriteCloser = (*Writer)(nil)

func (w *Writer) Write(p []byte) (int, error) {
	return w.out.Write(p)
}

// Close flushes the written content and atomically replaces the committed
// value with it. The temp file is removed whatever the outcome.
func (w *Writer) Close() error {
	w.once.Do(func() {
		defer w.removeTemp()
		if err := w.out.Sync(); err != nil {
			w.out.Close()
			w.err = errors.Wrapf(err, "sync %s", w.tmp)
			return
		}
		if err := w.out.Close(); err != nil {
			w.err = errors.Wrapf(err, "close %s", w.tmp)
			return
		}
		path := w.file.Path()
		w.file.log.Debug("done writing value to disk, committing by renaming %s to %s", w.tmp, path)
		if err := natefinch.ReplaceFile(w.tmp, path); err != nil {
			w.err = errors.Wrapf(err, "commit %s", path)
			return
		}
		w.file.written.Store(true)
	})
	return w.err
}

// Abort discards everything written without touching the committed value.
func (w *Writer) Abort() {
	w.once.Do(func() {
		w.out.Close()
		w.removeTemp()
		w.err = errors.Newf("write to %s aborted", w.file.Path())
	})
}

func (w *Writer) removeTemp() {
	if err := os.Remove(w.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.file.log.Warn("failed to remove temp file %s: %v", w.tmp, err)
	}
}

// statValue reports whether a committed value exists at path. Only a missing
// path means no value; any other stat failure, or something other than a
// regular file, is an error.
func statValue(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, errors.Wrapf(err, "stat %s", path)
	case !info.Mode().IsRegular():
		return false, errors.Newf("%s exists but is not a regular file", path)
	}
	return true, nil
}
