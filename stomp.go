package teamchat

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// STOMP Frame Codec
// ============================================================================
//
// The chat backend speaks STOMP 1.2 over a raw WebSocket. Only the small
// client-side subset is implemented here: CONNECT/CONNECTED, SUBSCRIBE,
// UNSUBSCRIBE, SEND, MESSAGE, ERROR, DISCONNECT, and bare-LF heart-beats.

const (
	frameConnect     = "CONNECT"
	frameConnected   = "CONNECTED"
	frameSubscribe   = "SUBSCRIBE"
	frameUnsubscribe = "UNSUBSCRIBE"
	frameSend        = "SEND"
	frameMessage     = "MESSAGE"
	frameError       = "ERROR"
	frameDisconnect  = "DISCONNECT"
)

const (
	hdrDestination   = "destination"
	hdrSubscription  = "subscription"
	hdrID            = "id"
	hdrContentType   = "content-type"
	hdrHeartBeat     = "heart-beat"
	hdrAcceptVersion = "accept-version"
	hdrAuthorization = "Authorization"
)

// stompFrame is a single STOMP frame. Headers preserve insertion order so
// marshaled frames are deterministic.
type stompFrame struct {
	Command string
	Headers [][2]string
	Body    []byte
}

func (f *stompFrame) header(name string) string {
	for _, h := range f.Headers {
		if h[0] == name {
			return h[1]
		}
	}
	return ""
}

func (f *stompFrame) addHeader(name, value string) {
	f.Headers = append(f.Headers, [2]string{name, value})
}

// heartBeatFrame is the wire form of a STOMP heart-beat: a single LF.
var heartBeatFrame = []byte("\n")

// isHeartBeat reports whether raw is a heart-beat rather than a frame.
func isHeartBeat(raw []byte) bool {
	trimmed := bytes.Trim(raw, "\r\n")
	return len(trimmed) == 0
}

// escapeHeader applies STOMP 1.2 header value escaping.
func escapeHeader(v string) string {
	r := strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	return r.Replace(v)
}

// unescapeHeader reverses escapeHeader.
func unescapeHeader(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' || i+1 == len(v) {
			b.WriteByte(c)
			continue
		}
		i++
		switch v[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// marshalFrame encodes a frame for the wire, NUL-terminated.
func marshalFrame(f *stompFrame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for _, h := range f.Headers {
		b.WriteString(escapeHeader(h[0]))
		b.WriteByte(':')
		b.WriteString(escapeHeader(h[1]))
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// parseFrame decodes a single wire frame. Heart-beats must be filtered out by
// the caller first (see isHeartBeat).
func parseFrame(raw []byte) (*stompFrame, error) {
	raw = bytes.TrimSuffix(raw, []byte{0})
	raw = bytes.TrimPrefix(raw, []byte("\n"))
	raw = bytes.TrimPrefix(raw, []byte("\r\n"))

	headerEnd := bytes.Index(raw, []byte("\n\n"))
	sep := 2
	if headerEnd < 0 {
		headerEnd = bytes.Index(raw, []byte("\r\n\r\n"))
		sep = 4
	}
	if headerEnd < 0 {
		return nil, fmt.Errorf("stomp: frame missing header terminator")
	}

	lines := strings.Split(string(raw[:headerEnd]), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("stomp: frame missing command")
	}

	f := &stompFrame{Command: strings.TrimRight(lines[0], "\r")}
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		f.addHeader(unescapeHeader(line[:idx]), unescapeHeader(line[idx+1:]))
	}

	body := raw[headerEnd+sep:]
	if n := f.header("content-length"); n != "" {
		length, err := strconv.Atoi(n)
		if err != nil || length > len(body) {
			return nil, fmt.Errorf("stomp: bad content-length %q", n)
		}
		body = body[:length]
	}
	if len(body) > 0 {
		f.Body = append([]byte(nil), body...)
	}
	return f, nil
}

// heartBeatHeader formats the CONNECT heart-beat header for an interval used
// in both directions, in milliseconds.
func heartBeatHeader(millis int64) string {
	v := strconv.FormatInt(millis, 10)
	return v + "," + v
}

// parseHeartBeat reads a "sx,sy" heart-beat header. Returns zeros when the
// header is absent or malformed, which disables heart-beating.
func parseHeartBeat(v string) (sx, sy int64) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	sx, _ = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	sy, _ = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	return sx, sy
}
