// Package kvsclient is the client-side façade: an external collaborator
// per spec.md §1 ("the client-side convenience façade" is out of the
// core's scope), specified here only by its interface and grounded
// directly on original_source/src/client/api.c so cmd/kvsc has a faithful
// driver to call.
package kvsclient

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"kvsd/internal/fifoio"
	"kvsd/internal/wire"
)

// Client holds one session's three pipe paths and its open notification
// sink, mirroring api.c's static pipe-path globals as instance state.
type Client struct {
	reqPath   string
	respPath  string
	notifPath string
	notif     *os.File
}

// Connect creates the three session FIFOs, opens the notification pipe for
// reading (non-blocking open, per api.c, since the server hasn't opened its
// write side yet), sends a CONNECT frame to registerPath, and waits for the
// ack. Returns the result byte (0 = accepted) and the Client, which is
// usable regardless of acceptance so the caller can inspect the result.
func Connect(reqPath, respPath, registerPath, notifPath string) (*Client, byte, error) {
	for _, p := range []string{reqPath, respPath, notifPath} {
		if err := fifoio.Create(p, 0666); err != nil {
			return nil, 0, err
		}
	}

	notif, err := fifoio.OpenReadNonBlockingFile(notifPath)
	if err != nil {
		return nil, 0, err
	}

	c := &Client{reqPath: reqPath, respPath: respPath, notifPath: notifPath, notif: notif}

	server, err := fifoio.OpenWriteBlocking(registerPath)
	if err != nil {
		notif.Close()
		return nil, 0, err
	}
	frame := wire.RegisterFrame{ReqPath: reqPath, RespPath: respPath, NotifPath: notifPath}
	if _, err := server.Write(wire.EncodeRegisterFrame(frame)); err != nil {
		server.Close()
		notif.Close()
		return nil, 0, fmt.Errorf("kvsclient: write register frame: %w", err)
	}
	server.Close()

	result, err := c.readAck(wire.OpConnect)
	if err != nil {
		notif.Close()
		return nil, 0, err
	}
	return c, result, nil
}

// Subscribe sends SUBSCRIBE for key and returns the ack result byte
// (1 = newly subscribed, 0 = no-op — spec.md §4.D's inverted polarity).
func (c *Client) Subscribe(key string) (byte, error) {
	return c.sendKeyed(wire.OpSubscribe, key)
}

// Unsubscribe sends UNSUBSCRIBE for key and returns the ack result byte
// (0 = removed, 1 = was not subscribed).
func (c *Client) Unsubscribe(key string) (byte, error) {
	return c.sendKeyed(wire.OpUnsubscribe, key)
}

func (c *Client) sendKeyed(opcode byte, key string) (byte, error) {
	f, err := fifoio.OpenWriteBlocking(c.reqPath)
	if err != nil {
		return 0, err
	}
	frame := wire.RequestFrame{Opcode: opcode, Key: key}
	_, err = f.Write(wire.EncodeRequestFrame(frame))
	f.Close()
	if err != nil {
		return 0, err
	}
	return c.readAck(opcode)
}

// Disconnect sends DISCONNECT, reads the ack, and unlinks all three pipes.
func (c *Client) Disconnect() (byte, error) {
	f, err := fifoio.OpenWriteBlocking(c.reqPath)
	if err != nil {
		return 0, err
	}
	_, err = f.Write([]byte{wire.OpDisconnect})
	f.Close()
	if err != nil {
		return 0, err
	}
	result, err := c.readAck(wire.OpDisconnect)
	c.Close()
	return result, err
}

// Close releases the notification pipe and unlinks all three FIFOs without
// notifying the server — used after a Connect the server rejected (non-zero
// result), and by Disconnect once the server has acknowledged.
func (c *Client) Close() {
	if c.notif != nil {
		c.notif.Close()
	}
	os.Remove(c.reqPath)
	os.Remove(c.respPath)
	os.Remove(c.notifPath)
}

// readAck opens the response pipe, reads the 2-byte ack, and checks the
// opcode echo matches what was sent.
func (c *Client) readAck(wantOpcode byte) (byte, error) {
	f, err := fifoio.OpenReadBlocking(c.respPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, wire.ResponseFrameLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, fmt.Errorf("kvsclient: read ack: %w", err)
	}
	resp, err := wire.DecodeResponseFrame(buf)
	if err != nil {
		return 0, err
	}
	if resp.Opcode != wantOpcode {
		return 0, fmt.Errorf("kvsclient: unexpected ack opcode %d, wanted %d", resp.Opcode, wantOpcode)
	}
	return resp.Result, nil
}

// ReadNotifications blocks reading newline-terminated notification records
// from the notification pipe and invokes handler for each one, until the
// pipe is closed or an error occurs. Meant to run on its own goroutine, the
// Go equivalent of api.c main.c's notification_handler thread.
func (c *Client) ReadNotifications(handler func(line string)) error {
	buf := make([]byte, wire.MaxStringSize*2+4)
	var pending []byte
	for {
		n, err := c.notif.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				handler(string(pending[:i]))
				pending = pending[i+1:]
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

