// Package ipc implements the byte channel and wire encoding used
// between a coordinator process and its worker processes.
//
// A channel wraps one end of a stream socket pair. Reads and writes are
// bounded by a poll interval rather than blocking indefinitely: a read
// that sees no data within the interval ends the stream, and a write
// that makes no progress within the interval gives up. Workers are
// short-lived and their output is buffered by the kernel, so the
// coordinator only ever reads after the worker has exited.
package ipc

import (
	"fmt"
	"iter"
	"os"
	"syscall"
	"time"
)

const (
	// defaultPollInterval bounds a single read or write attempt.
	defaultPollInterval = 100 * time.Millisecond

	// readChunkSize is the largest chunk a read yields at once.
	readChunkSize = 8192
)

// Channel is one end of a coordinator/worker byte stream.
type Channel struct {
	f    *os.File
	poll time.Duration
}

func newChannel(f *os.File) *Channel {
	return &Channel{f: f, poll: defaultPollInterval}
}

// FromFile wraps an inherited descriptor, typically the worker's end of
// the pair received as an extra file. The descriptor is switched to
// non-blocking mode so deadlines apply.
func FromFile(fd uintptr, name string) (*Channel, error) {
	if err := syscall.SetNonblock(int(fd), true); err != nil {
		return nil, fmt.Errorf("set %s non-blocking: %w", name, err)
	}
	f := os.NewFile(fd, name)
	if f == nil {
		return nil, fmt.Errorf("file descriptor %d is not open", fd)
	}
	return newChannel(f), nil
}

// SetPollInterval adjusts how long a single read or write attempt may
// wait for the peer. Values <= 0 are ignored.
func (c *Channel) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.poll = d
	}
}

// File exposes the underlying descriptor for passing to a child
// process.
func (c *Channel) File() *os.File { return c.f }

// Close releases the descriptor. Closing an already closed channel is a
// no-op.
func (c *Channel) Close() error {
	if c == nil || c.f == nil {
		return nil
	}
	f := c.f
	c.f = nil
	return f.Close()
}

// Chunks returns a lazy, single-use sequence of the bytes buffered on
// the channel. Each yielded chunk is at most readChunkSize bytes and is
// safe to retain. The sequence ends when the peer closes its end, when
// no data arrives within the poll interval, or when the consumer stops
// early.
func (c *Channel) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		buf := make([]byte, readChunkSize)
		for c.f != nil {
			_ = c.f.SetReadDeadline(time.Now().Add(c.poll))
			n, err := c.f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !yield(chunk) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

// Write sends p, retrying short writes while the peer keeps making
// progress. It stops and returns the underlying error when a write
// window passes without any progress, which callers on the worker side
// deliberately ignore: if the coordinator is gone there is nobody left
// to report to.
func (c *Channel) Write(p []byte) error {
	if c.f == nil {
		return os.ErrClosed
	}
	for len(p) > 0 {
		_ = c.f.SetWriteDeadline(time.Now().Add(c.poll))
		n, err := c.f.Write(p)
		p = p[n:]
		if err != nil && n == 0 {
			return err
		}
	}
	return nil
}

// readFull reads exactly len(p) bytes, polling until budget elapses.
func (c *Channel) readFull(p []byte, deadline time.Time) error {
	off := 0
	for off < len(p) {
		if c.f == nil {
			return os.ErrClosed
		}
		if !time.Now().Before(deadline) {
			return os.ErrDeadlineExceeded
		}
		_ = c.f.SetReadDeadline(time.Now().Add(c.poll))
		n, err := c.f.Read(p[off:])
		off += n
		if err != nil && n == 0 {
			if os.IsTimeout(err) {
				continue
			}
			return err
		}
	}
	return nil
}
