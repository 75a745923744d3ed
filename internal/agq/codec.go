package agq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrMalformed     = errors.New("agq: malformed value")
	ErrUnknownPrefix = errors.New("agq: unknown type prefix")
	ErrLineTooLong   = errors.New("agq: line too long")
	ErrBulkTooLarge  = errors.New("agq: bulk string too large")
	ErrSequenceLarge = errors.New("agq: sequence too long")
	ErrTooDeep       = errors.New("agq: nesting too deep")
	ErrNotRequest    = errors.New("agq: not a request")
)

// Limits constrains decode memory use.
type Limits struct {
	MaxBulkBytes   int64
	MaxSequenceLen int64
	MaxDepth       int
	MaxLineBytes   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBulkBytes:   64 * 1024 * 1024,
		MaxSequenceLen: 1 << 20,
		MaxDepth:       32,
		MaxLineBytes:   64 * 1024,
	}
}

// EncodeRequest encodes args as a sequence of bulk strings. Arguments are
// length-prefixed, so empty strings, CRLF and non-ASCII bytes travel intact.
func EncodeRequest(args []string) []byte {
	n := 16
	for _, a := range args {
		n += len(a) + 16
	}
	buf := make([]byte, 0, n)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, a := range args {
		buf = appendBulk(buf, a)
	}
	return buf
}

func appendBulk(buf []byte, s string) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

// WriteValue encodes v to w. Status and failure text must not contain CR or
// LF since they are line-delimited.
func WriteValue(w io.Writer, v Value) error {
	buf, err := appendValue(nil, v)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func appendValue(buf []byte, v Value) ([]byte, error) {
	switch t := v.(type) {
	case SimpleStatus:
		return appendLine(buf, '+', string(t))
	case Failure:
		return appendLine(buf, '-', string(t))
	case Number:
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(t), 10)
		return append(buf, '\r', '\n'), nil
	case Bytes:
		return appendBulk(buf, string(t)), nil
	case Nil:
		return append(buf, "$-1\r\n"...), nil
	case Sequence:
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(t)), 10)
		buf = append(buf, '\r', '\n')
		var err error
		for _, item := range t {
			if buf, err = appendValue(buf, item); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrMalformed, v)
	}
}

func appendLine(buf []byte, prefix byte, s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: line value contains CR or LF", ErrMalformed)
	}
	buf = append(buf, prefix)
	buf = append(buf, s...)
	return append(buf, '\r', '\n'), nil
}

// ReadValue decodes exactly one value from r.
//
// Expectations:
//   - Returns io.EOF when r is exhausted before the first byte
//   - Returns io.ErrUnexpectedEOF when r ends inside a value
//   - "$-1" and "*-1" decode to Nil
//   - Values over limits fail without allocating the advertised size
func ReadValue(r *bufio.Reader, limits Limits) (Value, error) {
	return readValue(r, limits.withDefaults(), 0)
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxBulkBytes <= 0 {
		l.MaxBulkBytes = d.MaxBulkBytes
	}
	if l.MaxSequenceLen <= 0 {
		l.MaxSequenceLen = d.MaxSequenceLen
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxLineBytes <= 0 {
		l.MaxLineBytes = d.MaxLineBytes
	}
	return l
}

func readValue(r *bufio.Reader, limits Limits, depth int) (Value, error) {
	if depth > limits.MaxDepth {
		return nil, ErrTooDeep
	}
	prefix, err := r.ReadByte()
	if err != nil {
		if depth > 0 && errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	line, err := readLine(r, limits.MaxLineBytes)
	if err != nil {
		return nil, err
	}
	switch prefix {
	case '+':
		return SimpleStatus(line), nil
	case '-':
		return Failure(line), nil
	case ':':
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrMalformed, line)
		}
		return Number(n), nil
	case '$':
		return readBulk(r, line, limits)
	case '*':
		return readSequence(r, line, limits, depth)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrefix, prefix)
	}
}

func readBulk(r *bufio.Reader, header string, limits Limits) (Value, error) {
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil || n < -1 {
		return nil, fmt.Errorf("%w: bad bulk length %q", ErrMalformed, header)
	}
	if n == -1 {
		return Nil{}, nil
	}
	if n > limits.MaxBulkBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrBulkTooLarge, n)
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, unexpected(err)
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrMalformed)
	}
	return Bytes(buf[:n]), nil
}

func readSequence(r *bufio.Reader, header string, limits Limits, depth int) (Value, error) {
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil || n < -1 {
		return nil, fmt.Errorf("%w: bad sequence length %q", ErrMalformed, header)
	}
	if n == -1 {
		return Nil{}, nil
	}
	if n > limits.MaxSequenceLen {
		return nil, fmt.Errorf("%w: %d items", ErrSequenceLarge, n)
	}
	out := make(Sequence, 0, min(n, 1024))
	for i := int64(0); i < n; i++ {
		v, err := readValue(r, limits, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// readLine reads up to CRLF and returns the line without it.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", unexpected(err)
		}
		if c == '\n' {
			s := sb.String()
			if !strings.HasSuffix(s, "\r") {
				return "", fmt.Errorf("%w: line not terminated by CRLF", ErrMalformed)
			}
			return s[:len(s)-1], nil
		}
		if sb.Len() >= limit {
			return "", ErrLineTooLong
		}
		sb.WriteByte(c)
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DecodeRequest reads one request (a sequence of bulk strings) from r. Fake
// servers in tests use it to inspect what the client sent.
func DecodeRequest(r *bufio.Reader, limits Limits) ([]string, error) {
	v, err := ReadValue(r, limits)
	if err != nil {
		return nil, err
	}
	seq, ok := v.(Sequence)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotRequest, Kind(v))
	}
	out := make([]string, len(seq))
	for i, item := range seq {
		b, ok := item.(Bytes)
		if !ok {
			return nil, fmt.Errorf("%w: argument %d is %s", ErrNotRequest, i, Kind(item))
		}
		out[i] = string(b)
	}
	return out, nil
}
