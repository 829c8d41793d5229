package fifoio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateMakesAFifo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	if err := Create(path, 0666); err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Error("Create should produce a named pipe")
	}
}

func TestCreateRemovesStaleNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	if err := os.WriteFile(path, []byte("stale"), 0666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := Create(path, 0666); err != nil {
		t.Fatalf("Create over a stale regular file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Error("Create should replace a stale non-FIFO node with a FIFO")
	}
}

func TestOpenReadBlockingRendezvousWithWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	if err := Create(path, 0666); err != nil {
		t.Fatalf("Create: %v", err)
	}

	readDone := make(chan []byte, 1)
	go func() {
		f, err := OpenReadBlocking(path)
		if err != nil {
			t.Error(err)
			return
		}
		defer f.Close()
		buf := make([]byte, 5)
		n, _ := f.Read(buf)
		readDone <- buf[:n]
	}()

	time.Sleep(20 * time.Millisecond)
	w, err := OpenWriteBlocking(path)
	if err != nil {
		t.Fatalf("OpenWriteBlocking: %v", err)
	}
	w.Write([]byte("hello"))
	w.Close()

	select {
	case got := <-readDone:
		if string(got) != "hello" {
			t.Errorf("read %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the blocking reader")
	}
}

func TestOpenReadNonBlockingFileDoesNotBlockWithoutWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	if err := Create(path, 0666); err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan struct{})
	go func() {
		f, err := OpenReadNonBlockingFile(path)
		if err != nil {
			t.Error(err)
			return
		}
		f.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OpenReadNonBlockingFile blocked with no writer present")
	}
}

func TestOpenWriteNonBlockingFDFailsWithoutReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	if err := Create(path, 0666); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// On Linux, a non-blocking open for write with no reader present fails
	// immediately (ENXIO) rather than succeeding and EAGAIN-ing later.
	if _, err := OpenWriteNonBlockingFD(path); err == nil {
		t.Error("OpenWriteNonBlockingFD should fail when no reader has opened the FIFO")
	}
}

func TestWriteNonBlockingFDDeliversToReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	if err := Create(path, 0666); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reader, err := OpenReadNonBlockingFile(path)
	if err != nil {
		t.Fatalf("OpenReadNonBlockingFile: %v", err)
	}
	defer reader.Close()

	fd, err := OpenWriteNonBlockingFD(path)
	if err != nil {
		t.Fatalf("OpenWriteNonBlockingFD: %v", err)
	}
	defer CloseFD(fd)

	if err := WriteNonBlockingFD(fd, []byte("hi")); err != nil {
		t.Fatalf("WriteNonBlockingFD: %v", err)
	}

	buf := make([]byte, 8)
	reader.SetReadDeadline(time.Now().Add(time.Second))
	n, err := reader.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Errorf("read %q, want %q", buf[:n], "hi")
	}
}
