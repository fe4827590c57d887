package disk

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Slot describes one fallback value in a directory as found on disk.
type Slot struct {
	Name    string
	Path    string
	Written bool
	Size    int64
	ModTime time.Time
	Lock    State
	LockAge time.Duration
}

// TempFile is a leftover from a write which never committed, typically
// because the writing process crashed.
type TempFile struct {
	Path    string
	Slot    string
	Size    int64
	ModTime time.Time
}

// Report is the result of inspecting a fallback directory.
type Report struct {
	Dir   string
	Slots []Slot
	Temps []TempFile
}

var tempFilePattern = regexp.MustCompile(`^(.+)\.(\d{10,})\.([0-9a-z]{10})$`)

// Inspect lists the fallback values, lock markers and leftover temp files in dir.
func Inspect(dir string, opts ...Option) (*Report, error) {
	cfg := applyOptions(opts)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read fallback directory %s", dir)
	}
	report := &Report{Dir: dir}
	slots := make(map[string]*Slot)
	slot := func(name string) *Slot {
		s, ok := slots[name]
		if !ok {
			s = &Slot{Name: name, Path: filepath.Join(dir, name)}
			slots[name] = s
		}
		return s
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", entry.Name())
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, LockSuffix):
			s := slot(strings.TrimSuffix(name, LockSuffix))
			s.Lock, s.LockAge = lockState(info.ModTime(), cfg)
		case tempFilePattern.MatchString(name):
			report.Temps = append(report.Temps, TempFile{
				Path:    filepath.Join(dir, name),
				Slot:    tempFilePattern.FindStringSubmatch(name)[1],
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		default:
			s := slot(name)
			s.Written = true
			s.Size = info.Size()
			s.ModTime = info.ModTime()
		}
	}
	for _, s := range slots {
		report.Slots = append(report.Slots, *s)
	}
	sort.Slice(report.Slots, func(i, j int) bool { return report.Slots[i].Name < report.Slots[j].Name })
	sort.Slice(report.Temps, func(i, j int) bool { return report.Temps[i].Path < report.Temps[j].Path })
	return report, nil
}

func lockState(modTime time.Time, cfg config) (State, time.Duration) {
	age := cfg.now().Sub(modTime)
	if age > cfg.maxLockDuration {
		return Expired, age
	}
	return Locked, age
}

// RemoveExpiredLocks deletes the lock markers in dir older than the max lock
// duration and returns their paths.
func RemoveExpiredLocks(dir string, opts ...Option) ([]string, error) {
	cfg := applyOptions(opts)
	report, err := Inspect(dir, opts...)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, s := range report.Slots {
		if s.Lock != Expired {
			continue
		}
		lock := newLockedFile(s.Path, cfg)
		// the marker may have been reclaimed and recreated since it was listed
		state, _, err := lock.State()
		if err != nil {
			return removed, err
		}
		if state != Expired {
			cfg.log.Debug("lock %s is no longer expired, leaving it", lock.LockPath())
			continue
		}
		if err := lock.releaseExpired(); err != nil {
			return removed, err
		}
		cfg.log.Info("removed expired lock %s (age %s)", lock.LockPath(), s.LockAge.Round(time.Second))
		removed = append(removed, lock.LockPath())
	}
	return removed, nil
}

// RemoveOrphanedTemps deletes temp files in dir older than olderThan and
// returns their paths. Younger temp files may belong to writes in progress.
func RemoveOrphanedTemps(dir string, olderThan time.Duration, opts ...Option) ([]string, error) {
	cfg := applyOptions(opts)
	report, err := Inspect(dir, opts...)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, tmp := range report.Temps {
		if cfg.now().Sub(tmp.ModTime) <= olderThan {
			continue
		}
		if err := os.Remove(tmp.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, errors.Wrapf(err, "remove temp file %s", tmp.Path)
		}
		cfg.log.Info("removed orphaned temp file %s", tmp.Path)
		removed = append(removed, tmp.Path)
	}
	return removed, nil
}
