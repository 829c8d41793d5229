// Package fifoio wraps the handful of Unix FIFO operations the session,
// registrar, and notifier layers need: creation, blocking/non-blocking
// open, and a write that reports "would block" as an ordinary error
// instead of hanging, per spec.md §4.C ("the notification sink is opened
// in non-blocking mode; if a write would block... the notification is
// dropped").
package fifoio

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrWouldBlock is returned by WriteNonBlockingFD when the kernel reports
// EAGAIN/EWOULDBLOCK on a non-blocking pipe write.
var ErrWouldBlock = errors.New("fifoio: write would block")

// Create makes a named pipe at path, removing any stale node first (the
// source does the same unconditional unlink-then-mkfifo dance in main()).
func Create(path string, perm os.FileMode) error {
	_ = os.Remove(path)
	if err := syscall.Mkfifo(path, uint32(perm)); err != nil {
		return fmt.Errorf("fifoio: mkfifo %s: %w", path, err)
	}
	return nil
}

// OpenReadBlocking opens path for reading, blocking until a writer also
// opens it — this is the handshake half of the rendezvous in spec.md §4.E.
func OpenReadBlocking(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("fifoio: open %s for read: %w", path, err)
	}
	return f, nil
}

// OpenWriteBlocking opens path for writing, blocking until a reader opens
// it. Used for the response FIFO, which is always drained promptly by a
// waiting client.
func OpenWriteBlocking(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("fifoio: open %s for write: %w", path, err)
	}
	return f, nil
}

// OpenReadNonBlockingFile opens path for reading without blocking at open
// time for a writer to show up (used by the client façade to open its own
// notification pipe before it has even sent CONNECT — original_source's
// api.c does `open(notif_path, O_RDONLY|O_NONBLOCK)` for the same reason).
// Unlike the notification write side, the read side benefits from Go's
// poller taking over the non-blocking descriptor: callers want ordinary
// blocking Read semantics once a writer exists, just not a blocking open.
func OpenReadNonBlockingFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("fifoio: open %s for non-blocking read: %w", path, err)
	}
	return f, nil
}

// OpenWriteNonBlockingFD opens path for writing without blocking for a
// reader, returning the raw descriptor (used for the notification FIFO,
// spec.md §4.C/§4.E). A raw syscall fd is used instead of *os.File
// because Go's os package hands non-blocking descriptors to the runtime
// poller, which makes Write block the goroutine until a reader shows up
// instead of returning EAGAIN immediately — exactly the behavior
// spec.md §4.C says must NOT happen.
func OpenWriteNonBlockingFD(path string) (int, error) {
	fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("fifoio: open %s for non-blocking write: %w", path, err)
	}
	return fd, nil
}

// WriteNonBlockingFD writes data to fd, a descriptor opened with
// OpenWriteNonBlockingFD, translating EAGAIN/EWOULDBLOCK into
// ErrWouldBlock so callers can treat "subscriber isn't draining" as a
// drop rather than a fatal error (spec.md §4.C).
func WriteNonBlockingFD(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := syscall.Write(fd, data)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				return ErrWouldBlock
			}
			return err
		}
		data = data[n:]
	}
	return nil
}

// CloseFD closes a raw descriptor opened via OpenWriteNonBlockingFD.
func CloseFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return syscall.Close(fd)
}
