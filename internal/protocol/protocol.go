// Package protocol implements the capture/token wire format.
//
// Outbound capture frames are binary: UTF8(id) + '|' + encoded frame bytes.
// Inbound token frames are text of the form "<id>|<token>". The token "<end>"
// (after trimming whitespace) marks the end of the stream for an id.
package protocol

import (
	"bytes"
	"errors"
	"strings"
)

const (
	// Delimiter separates the capture id from the rest of a frame.
	Delimiter = '|'
	// Sentinel is the reserved token that completes a caption.
	Sentinel = "<end>"
)

var (
	ErrMissingDelimiter = errors.New("frame has no delimiter")
	ErrEmptyID          = errors.New("frame has empty capture id")
)

// EncodeCapture builds an outbound capture frame.
func EncodeCapture(id string, payload []byte) []byte {
	msg := make([]byte, 0, len(id)+1+len(payload))
	msg = append(msg, id...)
	msg = append(msg, Delimiter)
	msg = append(msg, payload...)
	return msg
}

// DecodeCapture splits an outbound capture frame back into id and payload.
// Used by the inference simulator.
func DecodeCapture(frame []byte) (string, []byte, error) {
	idx := bytes.IndexByte(frame, Delimiter)
	if idx < 0 {
		return "", nil, ErrMissingDelimiter
	}
	if idx == 0 {
		return "", nil, ErrEmptyID
	}
	return string(frame[:idx]), frame[idx+1:], nil
}

// ParseToken splits an inbound token frame on the first delimiter.
// The token is returned verbatim, including any further delimiters. Only a
// missing delimiter is an error; an empty id is passed through as-is.
func ParseToken(raw string) (id, token string, err error) {
	id, token, ok := strings.Cut(raw, string(Delimiter))
	if !ok {
		return "", "", ErrMissingDelimiter
	}
	return id, token, nil
}

// EncodeToken builds an inbound token frame.
func EncodeToken(id, token string) string {
	return id + string(Delimiter) + token
}

// IsSentinel reports whether token marks the end of a caption.
func IsSentinel(token string) bool {
	return strings.TrimSpace(token) == Sentinel
}
