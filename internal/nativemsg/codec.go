// Package nativemsg speaks the browser native messaging protocol: every
// message is a 32-bit length in native (little-endian) byte order followed
// by that many bytes of UTF-8 JSON.
package nativemsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

const (
	// MaxOutboundSize is the largest message a browser accepts from a host.
	MaxOutboundSize = 1 << 20
	// MaxInboundSize is the largest message a browser sends to a host.
	MaxInboundSize = 64 << 20
)

var (
	// ErrMessageTooLarge is returned for frames over the protocol limits.
	ErrMessageTooLarge = errors.New("native message too large")

	// ErrMalformed is returned when a complete frame holds invalid JSON.
	ErrMalformed = errors.New("malformed native message")
)

// ReadFrame reads one raw message. io.EOF is returned untouched when the
// browser closes the pipe between messages.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("failed to read message length: %w", err)
		}
		return nil, err
	}

	if length > MaxInboundSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	return buf, nil
}

// WriteFrame writes one raw message
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxOutboundSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one message and decodes it into v
func ReadMessage(r io.Reader, v interface{}) error {
	body, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// WriteMessage encodes v and writes it as one message
func WriteMessage(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return WriteFrame(w, body)
}
