package agq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr    = "127.0.0.1:6380"
	DefaultTimeout = 5 * time.Second
)

// Config addresses one AGQ server.
type Config struct {
	Addr       string
	SessionKey string // empty disables AUTH
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Call sends one request on a fresh connection and returns the single reply.
// When a session key is configured an AUTH request is sent first and must be
// answered with a status or bytes reply.
//
// Expectations:
//   - Opens exactly one connection and closes it before returning
//   - Every read and write is bounded by cfg.Timeout
//   - A Failure reply to the request is returned as a value, not an error
//   - A disconnect after the request was fully sent is KindUnknownOutcome
//   - Cancelling ctx aborts the dial or the pending read
func Call(ctx context.Context, cfg Config, request []string) (Value, error) {
	cfg = cfg.withDefaults()
	op := "request"
	if len(request) > 0 {
		op = request[0]
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, &TransportError{Kind: KindConnect, Op: op, Err: err}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c := &callConn{conn: conn, r: bufio.NewReader(conn), cfg: cfg, ctx: ctx}
	if cfg.SessionKey != "" {
		if err := c.auth(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := c.write(request); err != nil {
		return nil, c.writeError(op, err)
	}
	v, err := c.read()
	if err != nil {
		return nil, c.readError(op, err, true)
	}
	log.Debug().Str("op", op).Str("addr", cfg.Addr).Str("reply", Kind(v)).
		Dur("elapsed", time.Since(start)).Msg("[agq] call")
	return v, nil
}

type callConn struct {
	conn net.Conn
	r    *bufio.Reader
	cfg  Config
	ctx  context.Context
}

func (c *callConn) write(args []string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(EncodeRequest(args))
	return err
}

func (c *callConn) read() (Value, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return nil, err
	}
	return ReadValue(c.r, DefaultLimits())
}

func (c *callConn) auth() error {
	const op = "AUTH"
	if err := c.write([]string{op, c.cfg.SessionKey}); err != nil {
		return c.writeError(op, err)
	}
	v, err := c.read()
	if err != nil {
		return c.readError(op, err, false)
	}
	switch t := v.(type) {
	case SimpleStatus, Bytes:
		return nil
	case Failure:
		return &TransportError{Kind: KindAuth, Op: op, Err: &RemoteError{Op: op, Message: string(t)}}
	default:
		return &TransportError{Kind: KindAuth, Op: op, Err: fmt.Errorf("%w: got %s", ErrUnexpectedReply, Kind(v))}
	}
}

// writeError classifies a failed write. A request that was not fully written
// cannot be acted on by the server.
func (c *callConn) writeError(op string, err error) *TransportError {
	te := &TransportError{Kind: KindConnect, Op: op, Err: err}
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		te.Err = ctxErr
		return te
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		te.Kind = KindTimeout
	}
	return te
}

// readError classifies a failed read. outcome is true when the request being
// answered could change server state, i.e. it is not the AUTH handshake.
func (c *callConn) readError(op string, err error, outcome bool) *TransportError {
	te := &TransportError{Op: op, Err: err, Sent: outcome}
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		te.Err = ctxErr
		te.Kind = KindConnect
		if outcome {
			te.Kind = KindUnknownOutcome
		}
		return te
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		te.Kind = KindTimeout
	case isDisconnect(err) && outcome:
		te.Kind = KindUnknownOutcome
	default:
		te.Kind = KindProtocol
	}
	return te
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
