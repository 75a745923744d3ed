package agq

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func reader(s string) *bufio.Reader { return bufio.NewReader(strings.NewReader(s)) }

func TestEncodeRequest_RoundTrip(t *testing.T) {
	// Empty strings, CRLF, RESP-looking bytes and non-ASCII survive encode then decode
	args := []string{"PLAN.SUBMIT", "", "a\r\nb", "$3\r\n*1\r\n", "héllo 世界", "\x00\xff"}
	got, err := DecodeRequest(bufio.NewReader(bytes.NewReader(EncodeRequest(args))), DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, args) {
		t.Errorf("got %q, want %q", got, args)
	}
}

func TestEncodeRequest_Layout(t *testing.T) {
	// Requests are an array header followed by bulk strings
	got := string(EncodeRequest([]string{"AUTH", "k"}))
	want := "*2\r\n$4\r\nAUTH\r\n$1\r\nk\r\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriteValue_RoundTripNested(t *testing.T) {
	// Every variant, nested, decodes back to itself
	in := Sequence{
		SimpleStatus("OK"),
		Bytes("job-1"),
		Failure("ERR nope"),
		Number(-42),
		Nil{},
		Sequence{Bytes(""), Sequence{}},
	}
	var buf bytes.Buffer
	if err := WriteValue(&buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadValue(bufio.NewReader(&buf), DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, Value(in)) {
		t.Errorf("got %v, want %v", out, in)
	}
}

func TestWriteValue_RejectsLineBreakInStatus(t *testing.T) {
	// Status text cannot carry CR or LF
	err := WriteValue(io.Discard, SimpleStatus("a\nb"))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestReadValue_NilForms(t *testing.T) {
	// $-1 and *-1 both decode to Nil
	for _, in := range []string{"$-1\r\n", "*-1\r\n"} {
		v, err := ReadValue(reader(in), DefaultLimits())
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if _, ok := v.(Nil); !ok {
			t.Errorf("%q: got %s", in, Kind(v))
		}
	}
}

func TestReadValue_EmptyStreamIsEOF(t *testing.T) {
	// No bytes at all is io.EOF
	if _, err := ReadValue(reader(""), DefaultLimits()); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadValue_TruncatedIsUnexpectedEOF(t *testing.T) {
	// A stream that ends inside a value is io.ErrUnexpectedEOF
	for _, in := range []string{"$5\r\nab", "*2\r\n+OK\r\n", "+OK"} {
		if _, err := ReadValue(reader(in), DefaultLimits()); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%q: expected ErrUnexpectedEOF, got %v", in, err)
		}
	}
}

func TestReadValue_BulkOverLimit(t *testing.T) {
	// A bulk length above the limit fails before reading the body
	limits := DefaultLimits()
	limits.MaxBulkBytes = 10
	if _, err := ReadValue(reader("$1000000\r\n"), limits); !errors.Is(err, ErrBulkTooLarge) {
		t.Errorf("expected ErrBulkTooLarge, got %v", err)
	}
}

func TestReadValue_SequenceOverLimit(t *testing.T) {
	// A sequence count above the limit fails
	limits := DefaultLimits()
	limits.MaxSequenceLen = 2
	if _, err := ReadValue(reader("*3\r\n"), limits); !errors.Is(err, ErrSequenceLarge) {
		t.Errorf("expected ErrSequenceLarge, got %v", err)
	}
}

func TestReadValue_DepthLimit(t *testing.T) {
	// Nesting deeper than MaxDepth fails
	limits := DefaultLimits()
	limits.MaxDepth = 4
	in := strings.Repeat("*1\r\n", 10) + ":1\r\n"
	if _, err := ReadValue(reader(in), limits); !errors.Is(err, ErrTooDeep) {
		t.Errorf("expected ErrTooDeep, got %v", err)
	}
}

func TestReadValue_LineTooLong(t *testing.T) {
	// Status lines above MaxLineBytes fail
	limits := DefaultLimits()
	limits.MaxLineBytes = 8
	if _, err := ReadValue(reader("+"+strings.Repeat("x", 20)+"\r\n"), limits); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("expected ErrLineTooLong, got %v", err)
	}
}

func TestReadValue_Malformed(t *testing.T) {
	// Bad prefixes, bare LF, bad numbers and bad terminators are rejected
	cases := map[string]error{
		"?x\r\n":     ErrUnknownPrefix,
		"+OK\n":      ErrMalformed,
		":12a\r\n":   ErrMalformed,
		"$2\r\nabcd": ErrMalformed,
		"$-5\r\n":    ErrMalformed,
		"*x\r\n":     ErrMalformed,
	}
	for in, want := range cases {
		if _, err := ReadValue(reader(in), DefaultLimits()); !errors.Is(err, want) {
			t.Errorf("%q: expected %v, got %v", in, want, err)
		}
	}
}

func TestDecodeRequest_RejectsNonBulkItems(t *testing.T) {
	// Requests must be sequences of bulk strings
	if _, err := DecodeRequest(reader("*1\r\n:1\r\n"), DefaultLimits()); !errors.Is(err, ErrNotRequest) {
		t.Errorf("expected ErrNotRequest, got %v", err)
	}
}
