// Package agq speaks the RESP-style request/response protocol of the AGQ
// queue service: the wire value union, its codec, and a one-connection-per-call
// client with typed operations on top.
package agq

import (
	"strconv"
	"strings"
)

// Value is one protocol value. The set of implementations is closed:
// SimpleStatus, Bytes, Failure, Number, Sequence and Nil.
type Value interface {
	wireValue()
	String() string
}

// SimpleStatus is a one-line status reply ("+OK").
type SimpleStatus string

// Bytes is a length-prefixed binary-safe string.
type Bytes string

// Failure is an error reply sent by the server ("-ERR ...").
type Failure string

// Number is a signed 64-bit integer reply.
type Number int64

// Sequence is an ordered list of values, possibly nested.
type Sequence []Value

// Nil is the absent value ($-1 or *-1).
type Nil struct{}

func (SimpleStatus) wireValue() {}
func (Bytes) wireValue()        {}
func (Failure) wireValue()      {}
func (Number) wireValue()       {}
func (Sequence) wireValue()     {}
func (Nil) wireValue()          {}

func (v SimpleStatus) String() string { return "+" + string(v) }
func (v Bytes) String() string        { return strconv.Quote(string(v)) }
func (v Failure) String() string      { return "-" + string(v) }
func (v Number) String() string       { return strconv.FormatInt(int64(v), 10) }
func (Nil) String() string            { return "(nil)" }

func (v Sequence) String() string {
	parts := make([]string, len(v))
	for i, item := range v {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Kind returns a short name for the value's variant, used in error messages.
func Kind(v Value) string {
	switch v.(type) {
	case SimpleStatus:
		return "status"
	case Bytes:
		return "bytes"
	case Failure:
		return "failure"
	case Number:
		return "number"
	case Sequence:
		return "sequence"
	case Nil:
		return "nil"
	default:
		return "unknown"
	}
}

// Text returns the textual payload of a status or bytes value.
func Text(v Value) (string, bool) {
	switch t := v.(type) {
	case SimpleStatus:
		return string(t), true
	case Bytes:
		return string(t), true
	default:
		return "", false
	}
}
