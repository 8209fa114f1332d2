package serialrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrConnClosed is returned by calls made after the connection went away.
var ErrConnClosed = errors.New("serial rpc connection closed")

// maxLineSize bounds a single response line.
const maxLineSize = 64 * 1024

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RemoteError is an error reported by the firmware.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return "device error on " + e.Method + ": " + e.Message
}

// conn carries newline-delimited JSON requests and responses over a byte
// stream. Calls are serialized; the firmware answers one request at a time.
type conn struct {
	rwc io.ReadWriteCloser

	callMu sync.Mutex
	nextID uint64

	lines chan []byte
	done  chan struct{}
	once  sync.Once
	err   error
}

func newConn(rwc io.ReadWriteCloser) *conn {
	c := &conn{
		rwc:   rwc,
		lines: make(chan []byte, 4),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *conn) readLoop() {
	sc := bufio.NewScanner(c.rwc)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(line) == 0 {
			continue
		}
		select {
		case c.lines <- line:
		case <-c.done:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	c.shutdown(err)
}

func (c *conn) shutdown(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// call sends method with params and decodes the result into out, which may
// be nil.
func (c *conn) call(ctx context.Context, method string, params, out any) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	select {
	case <-c.done:
		return pkgerrors.Wrapf(ErrConnClosed, "%s: %v", method, c.err)
	default:
	}

	c.nextID++
	id := c.nextID

	b, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode %s request", method)
	}
	b = append(b, '\n')

	logrus.WithFields(logrus.Fields{
		"id":     id,
		"method": method,
	}).Trace("sending rpc request")

	if _, err := c.rwc.Write(b); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s request", method)
	}

	for {
		select {
		case <-ctx.Done():
			return pkgerrors.Wrapf(ctx.Err(), "no response to %s", method)
		case <-c.done:
			return pkgerrors.Wrapf(ErrConnClosed, "%s: %v", method, c.err)
		case line := <-c.lines:
			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				// Firmware may print boot banners before it speaks RPC.
				logrus.WithField("line", string(line)).Debug("ignoring non-rpc line from device")
				continue
			}
			if resp.ID != id {
				logrus.WithFields(logrus.Fields{
					"want": id,
					"got":  resp.ID,
				}).Debug("ignoring stale rpc response")
				continue
			}
			if resp.Error != "" {
				return &RemoteError{Method: method, Message: resp.Error}
			}
			if out == nil || len(resp.Result) == 0 {
				return nil
			}
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return pkgerrors.Wrapf(err, "failed to decode %s result", method)
			}
			return nil
		}
	}
}

func (c *conn) Close() error {
	c.shutdown(ErrConnClosed)
	return c.rwc.Close()
}
