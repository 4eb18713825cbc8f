// Package fifo creates, opens and removes the named pipes pipekv is
// addressed through.
//
// Every open uses O_NONBLOCK so the returned *os.File is registered with the
// runtime poller: reads and writes park the goroutine instead of a thread,
// deadlines work, and Close interrupts a blocked call.
package fifo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Perm is the mode new FIFOs are created with.
const Perm = 0o640

// retryInterval paces OpenWriter attempts while the FIFO has no reader.
const retryInterval = 10 * time.Millisecond

// Create makes a FIFO at path, replacing whatever file is already there.
func Create(path string) error {
	if err := Remove(path); err != nil {
		return err
	}
	if err := unix.Mkfifo(path, Perm); err != nil {
		return &fs.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

// Remove unlinks path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IsFIFO reports whether path exists and is a named pipe.
func IsFIFO(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&fs.ModeNamedPipe != 0
}

// OpenReadWrite opens path for both reading and writing. Holding both ends
// means reads never observe EOF, even while no other process has the FIFO
// open.
func OpenReadWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
}

// OpenReader opens path for reading. The open does not wait for a writer; a
// read observes EOF once every writer has closed.
func OpenReader(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
}

// OpenWriter opens path for writing. A non-blocking write open fails with
// ENXIO while the FIFO has no reader, so the open is retried until a reader
// appears or ctx is done.
func OpenWriter(ctx context.Context, path string) (*os.File, error) {
	limiter := rate.NewLimiter(rate.Every(retryInterval), 1)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.ENXIO) {
			return nil, err
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("open %s: no reader: %w", path, err)
		}
	}
}
