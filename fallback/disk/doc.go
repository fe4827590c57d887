// Package disk keeps the last successfully loaded value for every cache key
// in a directory, so it can be served when the primary loader fails.
//
// # Layout
//
// Each key maps, through a [NamingStrategy], to a file name in the fallback
// directory. For a name N the directory may hold:
//
//	N                          the committed value
//	N.fallback.lock            lock marker, present while a writer is active
//	N.<epoch-millis>.<random>  temp file of a write in progress
//
// # Writing
//
// Writers first acquire the lock by creating the marker with O_EXCL, write the
// value to a private temp file, and commit it with an atomic rename over N.
// The rename means readers never see a partially written value, and a crash
// mid-write leaves the previous value in place. A writer that finds the lock
// taken skips writing instead of waiting. A marker older than the max lock
// duration (10 minutes by default) is considered left behind by a crashed
// writer and is removed by the next writer.
//
// Exclusion relies on the file system alone, so it holds between goroutines
// and between processes sharing the directory alike. There is no in-process
// mutex.
//
// # Reading
//
// Reads take no lock. An open handle keeps reading the value it opened even if
// a new value is committed concurrently. Reading a key that was never written
// fails with [ErrNotYetWritten].
//
// # Wiring
//
// [Decorator] assembles everything: it wraps a primary loader with a
// [fallback.LoaderWithFallback] whose keeper is a [Keeper] and whose fallback
// is a [Loader], both resolving files through the same [Resolver].
package disk
