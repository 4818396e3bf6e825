package nativemsg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func frame(body string) []byte {
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	return buf
}

func TestWriteMessage_Framing(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, PopupMessage{Type: TypePopup, Message: "hi"}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	raw := buf.Bytes()
	length := binary.LittleEndian.Uint32(raw[:4])
	if int(length) != len(raw)-4 {
		t.Fatalf("length prefix %d does not match body %d", length, len(raw)-4)
	}
	if got := string(raw[4:]); got != `{"type":"popup","message":"hi"}` {
		t.Errorf("body = %s", got)
	}
}

func TestReadMessage(t *testing.T) {
	r := bytes.NewReader(append(
		frame(`{"type":"location","hostname":"www.tiktok.com","pathname":"/","href":"https://www.tiktok.com/"}`),
		frame(`{"type":"visibility","visible":false}`)...,
	))

	var loc Incoming
	if err := ReadMessage(r, &loc); err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if loc.Type != TypeLocation || loc.Hostname != "www.tiktok.com" {
		t.Errorf("unexpected message: %+v", loc)
	}

	var vis Incoming
	if err := ReadMessage(r, &vis); err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if vis.Visible == nil || *vis.Visible {
		t.Errorf("unexpected visibility: %+v", vis)
	}

	if err := ReadMessage(r, &vis); err != io.EOF {
		t.Errorf("ReadMessage at end = %v, want io.EOF", err)
	}
}

func TestReadFrame_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{name: "truncated length", input: []byte{1, 0}, want: io.ErrUnexpectedEOF},
		{name: "truncated body", input: frame(`{"type":"x"}`)[:8], want: io.ErrUnexpectedEOF},
		{name: "missing body", input: frame(`{}`)[:4], want: io.ErrUnexpectedEOF},
		{name: "oversized", input: []byte{0xff, 0xff, 0xff, 0xff}, want: ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadMessage_Malformed(t *testing.T) {
	var msg Incoming
	err := ReadMessage(bytes.NewReader(frame(`{not json`)), &msg)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("error = %v, want ErrMalformed", err)
	}
}

func TestWriteFrame_TooLarge(t *testing.T) {
	body := []byte(`"` + strings.Repeat("x", MaxOutboundSize) + `"`)
	if err := WriteFrame(io.Discard, body); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("WriteFrame error = %v, want ErrMessageTooLarge", err)
	}
}

func TestMinutesText(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"type":"set_limit","minutes":"45"}`, "45"},
		{`{"type":"set_limit","minutes":" 30 "}`, " 30 "},
		{`{"type":"set_limit","minutes":12.5}`, "12.5"},
		{`{"type":"set_limit","minutes":null}`, ""},
		{`{"type":"set_limit"}`, ""},
	}

	for _, tt := range tests {
		var msg Incoming
		if err := ReadMessage(bytes.NewReader(frame(tt.body)), &msg); err != nil {
			t.Fatalf("ReadMessage(%s) failed: %v", tt.body, err)
		}
		if got := msg.MinutesText(); got != tt.want {
			t.Errorf("MinutesText(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
