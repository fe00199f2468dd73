package protocol

import (
	"github.com/tidwall/gjson"
)

// Kind identifies the structural shape of an inbound stream frame.
type Kind string

const (
	KindHello        Kind = "hello"
	KindResponse     Kind = "response"
	KindDelta        Kind = "delta"
	KindUnclassified Kind = "unclassified"
)

// Frame is a single classified inbound frame. Raw holds the frame bytes
// exactly as they arrived; the accessors read fields lazily so that
// frames the caller never inspects cost nothing beyond classification.
type Frame struct {
	Kind Kind
	Raw  []byte
}

// Classify determines the kind of an inbound frame from the presence of
// specific fields, never from an explicit type tag. The checks run as a
// priority cascade: Hello, then Response, then Delta. A frame carrying
// the fields of more than one kind takes the highest priority match.
//
// Malformed JSON yields (Frame{}, false); the stream transport drops
// those silently.
func Classify(raw []byte) (Frame, bool) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, false
	}

	frame := Frame{Kind: KindUnclassified, Raw: raw}

	switch {
	case gjson.GetBytes(raw, "version").Exists() && gjson.GetBytes(raw, "self").Exists():
		frame.Kind = KindHello

	case gjson.GetBytes(raw, "requestId").Exists():
		frame.Kind = KindResponse

	case gjson.GetBytes(raw, "context").Exists():
		frame.Kind = KindDelta
	}

	return frame, true
}

// Self returns the server's self identity from a Hello frame.
func (f Frame) Self() string {
	return gjson.GetBytes(f.Raw, "self").String()
}

// Version returns the protocol version from a Hello frame.
func (f Frame) Version() string {
	return gjson.GetBytes(f.Raw, "version").String()
}

// StartTime returns the playback start time from a Hello frame. It is
// empty for live streams.
func (f Frame) StartTime() string {
	return gjson.GetBytes(f.Raw, "startTime").String()
}

// Playback reports whether the Hello frame announced a playback stream.
func (f Frame) Playback() bool {
	return gjson.GetBytes(f.Raw, "startTime").Exists()
}

// RequestID returns the correlation identifier of a Response frame.
func (f Frame) RequestID() string {
	return gjson.GetBytes(f.Raw, "requestId").String()
}

// LoginToken returns the session token nested in a login Response, or
// "" when the response carries none.
func (f Frame) LoginToken() string {
	return gjson.GetBytes(f.Raw, "login.token").String()
}

// Context returns the context of a Delta frame.
func (f Frame) Context() string {
	return gjson.GetBytes(f.Raw, "context").String()
}
