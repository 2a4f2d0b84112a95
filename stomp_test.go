package teamchat

import (
	"bytes"
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	frame := &stompFrame{Command: frameSend}
	frame.addHeader(hdrDestination, "/app/message.send/42")
	frame.addHeader(hdrContentType, "application/json")
	frame.Body = []byte(`{"content":"hello"}`)

	parsed, err := parseFrame(marshalFrame(frame))
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if parsed.Command != frameSend {
		t.Errorf("command = %q, want %q", parsed.Command, frameSend)
	}
	if got := parsed.header(hdrDestination); got != "/app/message.send/42" {
		t.Errorf("destination = %q", got)
	}
	if !bytes.Equal(parsed.Body, frame.Body) {
		t.Errorf("body = %q, want %q", parsed.Body, frame.Body)
	}
}

func TestMarshalAddsContentLength(t *testing.T) {
	frame := &stompFrame{Command: frameSend, Body: []byte("abc")}
	frame.addHeader(hdrDestination, "/app/typing/1")

	parsed, err := parseFrame(marshalFrame(frame))
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if got := parsed.header("content-length"); got != "3" {
		t.Errorf("content-length = %q, want %q", got, "3")
	}
}

func TestParseFrameHonorsContentLength(t *testing.T) {
	// A body containing a NUL byte is only recoverable via content-length.
	body := []byte("ab\x00cd")
	frame := &stompFrame{Command: frameMessage, Body: body}
	frame.addHeader(hdrDestination, "/topic/conversation/1")

	parsed, err := parseFrame(marshalFrame(frame))
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if !bytes.Equal(parsed.Body, body) {
		t.Errorf("body = %q, want %q", parsed.Body, body)
	}
}

func TestParseFrameNoBody(t *testing.T) {
	raw := []byte("CONNECTED\nversion:1.2\nheart-beat:4000,4000\n\n\x00")
	parsed, err := parseFrame(raw)
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if parsed.Command != frameConnected {
		t.Errorf("command = %q", parsed.Command)
	}
	if got := parsed.header(hdrHeartBeat); got != "4000,4000" {
		t.Errorf("heart-beat = %q", got)
	}
	if len(parsed.Body) != 0 {
		t.Errorf("body = %q, want empty", parsed.Body)
	}
}

func TestParseFrameCRLF(t *testing.T) {
	raw := []byte("CONNECTED\r\nversion:1.2\r\n\r\n\x00")
	parsed, err := parseFrame(raw)
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if got := parsed.header("version"); got != "1.2" {
		t.Errorf("version = %q", got)
	}
}

func TestHeaderEscaping(t *testing.T) {
	cases := []struct {
		raw, escaped string
	}{
		{"plain", "plain"},
		{"colon:value", `colon\cvalue`},
		{"back\\slash", `back\\slash`},
		{"line\nbreak", `line\nbreak`},
	}
	for _, tc := range cases {
		if got := escapeHeader(tc.raw); got != tc.escaped {
			t.Errorf("escapeHeader(%q) = %q, want %q", tc.raw, got, tc.escaped)
		}
		if got := unescapeHeader(tc.escaped); got != tc.raw {
			t.Errorf("unescapeHeader(%q) = %q, want %q", tc.escaped, got, tc.raw)
		}
	}
}

func TestHeartBeatDetection(t *testing.T) {
	if !isHeartBeat([]byte("\n")) {
		t.Error("bare LF should be a heart-beat")
	}
	if !isHeartBeat([]byte("\r\n")) {
		t.Error("CRLF should be a heart-beat")
	}
	if isHeartBeat([]byte("MESSAGE\n\n\x00")) {
		t.Error("frame mistaken for heart-beat")
	}
}

func TestParseHeartBeatHeader(t *testing.T) {
	send, recv := parseHeartBeat("4000,5000")
	if send != 4000 || recv != 5000 {
		t.Errorf("parseHeartBeat = %d, %d", send, recv)
	}
	send, recv = parseHeartBeat("")
	if send != 0 || recv != 0 {
		t.Errorf("empty header should yield zero values, got %v, %v", send, recv)
	}
	send, recv = parseHeartBeat("garbage")
	if send != 0 || recv != 0 {
		t.Errorf("malformed header should yield zero values, got %v, %v", send, recv)
	}
}
