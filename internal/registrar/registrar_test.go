package registrar

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kvsd/internal/fifoio"
	"kvsd/internal/session"
	"kvsd/internal/wire"
)

type stubLimiter struct{ allow bool }

func (s stubLimiter) Allow() bool { return s.allow }

func sendRegisterFrame(t *testing.T, registerPath string, frame wire.RegisterFrame) {
	t.Helper()
	f, err := fifoio.OpenWriteBlocking(registerPath)
	if err != nil {
		t.Fatalf("open registration pipe: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(wire.EncodeRegisterFrame(frame)); err != nil {
		t.Fatalf("write register frame: %v", err)
	}
}

func readAck(t *testing.T, respPath string) wire.ResponseFrame {
	t.Helper()
	f, err := fifoio.OpenReadBlocking(respPath)
	if err != nil {
		t.Fatalf("open response pipe: %v", err)
	}
	defer f.Close()
	buf := make([]byte, wire.ResponseFrameLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	resp, err := wire.DecodeResponseFrame(buf)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return resp
}

func setupPipes(t *testing.T) (dir, registerPath, reqPath, respPath, notifPath string) {
	t.Helper()
	// The register frame carries each path in a wire.MaxPipePathLength-byte
	// field; t.TempDir() paths are longer than that, so use a short one.
	dir, err := os.MkdirTemp("", "kvr")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	registerPath = filepath.Join(dir, "register")
	reqPath = filepath.Join(dir, "req")
	respPath = filepath.Join(dir, "resp")
	notifPath = filepath.Join(dir, "notif")
	for _, p := range []string{reqPath, respPath, notifPath} {
		if err := fifoio.Create(p, 0666); err != nil {
			t.Fatalf("create pipe %s: %v", p, err)
		}
	}
	return
}

func TestRegistrarAcceptsRegistration(t *testing.T) {
	dir, registerPath, reqPath, respPath, notifPath := setupPipes(t)
	_ = dir

	tbl := session.NewTable(2)
	spawned := make(chan *session.Session, 1)
	reg := New(registerPath, tbl, func(s *session.Session) { spawned <- s }, nil, nil, nil)
	if err := reg.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	ackCh := make(chan wire.ResponseFrame, 1)
	go func() { ackCh <- readAck(t, respPath) }()

	sendRegisterFrame(t, registerPath, wire.RegisterFrame{ReqPath: reqPath, RespPath: respPath, NotifPath: notifPath})

	select {
	case ack := <-ackCh:
		if ack.Result != 0 {
			t.Errorf("ack result = %d, want 0 (accepted)", ack.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}

	select {
	case s := <-spawned:
		if s.ReqPath != reqPath || s.RespPath != respPath || s.NotifPath != notifPath {
			t.Errorf("spawned session paths = %+v, want req=%s resp=%s notif=%s", s, reqPath, respPath, notifPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for spawn")
	}
}

func TestRegistrarRejectsWhenRateLimited(t *testing.T) {
	_, registerPath, reqPath, respPath, notifPath := setupPipes(t)

	tbl := session.NewTable(2)
	spawned := make(chan *session.Session, 1)
	reg := New(registerPath, tbl, func(s *session.Session) { spawned <- s }, stubLimiter{allow: false}, nil, nil)
	reg.Prepare()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	ackCh := make(chan wire.ResponseFrame, 1)
	go func() { ackCh <- readAck(t, respPath) }()

	sendRegisterFrame(t, registerPath, wire.RegisterFrame{ReqPath: reqPath, RespPath: respPath, NotifPath: notifPath})

	select {
	case ack := <-ackCh:
		if ack.Result != 1 {
			t.Errorf("ack result = %d, want 1 (rejected)", ack.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}

	select {
	case <-spawned:
		t.Error("a rate-limited registration should not spawn a session")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistrarRejectsWhenTableFull(t *testing.T) {
	_, registerPath, reqPath, respPath, notifPath := setupPipes(t)

	tbl := session.NewTable(1)
	tbl.Claim("/tmp/other-req", "/tmp/other-resp", "/tmp/other-notif")

	reg := New(registerPath, tbl, func(s *session.Session) {}, nil, nil, nil)
	reg.Prepare()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	ackCh := make(chan wire.ResponseFrame, 1)
	go func() { ackCh <- readAck(t, respPath) }()

	sendRegisterFrame(t, registerPath, wire.RegisterFrame{ReqPath: reqPath, RespPath: respPath, NotifPath: notifPath})

	select {
	case ack := <-ackCh:
		if ack.Result != 1 {
			t.Errorf("ack result = %d, want 1 (capacity rejected)", ack.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}
