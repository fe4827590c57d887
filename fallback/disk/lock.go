package disk

import (
	"io/fs"
	"os"
	"time"

	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
)

// LockSuffix is appended to a value file's name to form its lock marker. No
// naming strategy may produce a value name ending with it.
const LockSuffix = ".fallback.lock"

var (
	// ErrUnableToAcquireLock marks unexpected I/O errors while acquiring a lock.
	// The lock is not acquired. Should the marker have been created after all,
	// nobody can acquire it before it expires.
	ErrUnableToAcquireLock = errors.New("unable to acquire lock")

	// ErrUnableToReleaseLock marks I/O errors while deleting a lock marker. The
	// lock can not be acquired by anyone until it expires.
	ErrUnableToReleaseLock = errors.New("unable to release lock")

	// ErrLockNotHeld marks a release of a lock marker which no longer exists.
	// It means someone deleted a lock they did not hold, which is a bug as long
	// as every writer honours the lock.
	ErrLockNotHeld = errors.New("lock marker vanished while held")
)

// LockedFile guards a file with a sibling lock marker. Presence of the marker
// means a writer is, or recently was, active. The marker carries no payload
// and no owner, so exclusion works across processes sharing the directory.
type LockedFile struct {
	path            string
	lockPath        string
	maxLockDuration time.Duration
	now             func() time.Time
	log             logger.Logger
}

// NewLockedFile returns the lock guarding path.
func NewLockedFile(path string, opts ...Option) *LockedFile {
	return newLockedFile(path, applyOptions(opts))
}

func newLockedFile(path string, cfg config) *LockedFile {
	return &LockedFile{
		path:            path,
		lockPath:        path + LockSuffix,
		maxLockDuration: cfg.maxLockDuration,
		now:             cfg.now,
		log:             cfg.log,
	}
}

// Path returns the path of the guarded file.
func (l *LockedFile) Path() string { return l.path }

// LockPath returns the path of the lock marker.
func (l *LockedFile) LockPath() string { return l.lockPath }

// RunIfLocked runs op only if the lock can be acquired, and always releases
// the lock afterwards. It reports whether op ran.
//
// If releasing fails the error is returned, but whatever op did stands. When
// op failed as well, its error is returned with the release error attached as
// a secondary error.
func (l *LockedFile) RunIfLocked(op func() error) (bool, error) {
	acquired, err := l.TryLock()
	if err != nil || !acquired {
		return false, err
	}
	opErr := op()
	if releaseErr := l.Release(); releaseErr != nil {
		if opErr != nil {
			return true, errors.WithSecondaryError(opErr, releaseErr)
		}
		return true, releaseErr
	}
	return true, opErr
}

// TryLock makes a single attempt at acquiring the lock and never waits. An
// expired marker is removed before the attempt. A marker held by someone else
// yields false with no error.
func (l *LockedFile) TryLock() (bool, error) {
	info, err := os.Lstat(l.lockPath)
	switch {
	case err == nil:
		age := l.now().Sub(info.ModTime())
		if age <= l.maxLockDuration {
			l.log.Debug("lock %s is held by another writer, not acquiring", l.lockPath)
			return false, nil
		}
		l.log.Warn("lock %s is %s old, older than the max lock duration %s, and is considered expired. "+
			"Deleting it. Some writer may be failing to release its lock.", l.lockPath, age.Round(time.Second), l.maxLockDuration)
		if err := l.releaseExpired(); err != nil {
			return false, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return false, errors.Mark(errors.Wrapf(err, "inspect lock %s", l.lockPath), ErrUnableToAcquireLock)
	}

	f, err := os.OpenFile(l.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			l.log.Debug("lock %s was created by another writer first", l.lockPath)
			return false, nil
		}
		return false, errors.Mark(errors.Wrapf(err, "create lock %s; the lock will not be acquired, "+
			"and should the marker exist after all it blocks others for up to %s", l.lockPath, l.maxLockDuration),
			ErrUnableToAcquireLock)
	}
	if err := f.Close(); err != nil {
		l.log.Warn("closing new lock marker %s failed: %v", l.lockPath, err)
	}
	l.log.Trace("acquired lock %s", l.lockPath)
	return true, nil
}

func (l *LockedFile) releaseExpired() error {
	err := os.Remove(l.lockPath)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		l.log.Info("expired lock %s was already deleted, probably by another writer. Continuing normally.", l.lockPath)
		return nil
	default:
		return errors.Mark(errors.Wrapf(err, "delete expired lock %s", l.lockPath), ErrUnableToAcquireLock)
	}
}

// Release deletes the lock marker.
func (l *LockedFile) Release() error {
	err := os.Remove(l.lockPath)
	switch {
	case err == nil:
		l.log.Trace("released lock %s", l.lockPath)
		return nil
	case errors.Is(err, fs.ErrNotExist):
		err = errors.Mark(errors.Wrapf(err, "release lock %s: the marker was deleted by someone else while held", l.lockPath), ErrLockNotHeld)
		l.log.Error("%v", err)
		return err
	default:
		err = errors.Mark(errors.Wrapf(err, "release lock %s; it can not be acquired until it expires in %s",
			l.lockPath, l.maxLockDuration), ErrUnableToReleaseLock)
		l.log.Error("%v", err)
		return err
	}
}

// IsLocked reports whether the lock marker currently exists, expired or not.
func (l *LockedFile) IsLocked() bool {
	_, err := os.Lstat(l.lockPath)
	return err == nil
}

// State describes a lock marker at a point in time.
type State int

const (
	Unlocked State = iota
	Locked
	Expired
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// State reports whether the marker is absent, held or expired, and its age.
func (l *LockedFile) State() (State, time.Duration, error) {
	info, err := os.Lstat(l.lockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Unlocked, 0, nil
	}
	if err != nil {
		return Unlocked, 0, errors.Wrapf(err, "inspect lock %s", l.lockPath)
	}
	age := l.now().Sub(info.ModTime())
	if age > l.maxLockDuration {
		return Expired, age, nil
	}
	return Locked, age, nil
}
