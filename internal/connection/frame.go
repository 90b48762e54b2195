package connection

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// STOMP commands used by the client.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// Well-known STOMP headers.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrVersion       = "version"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrAck           = "ack"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrMessage       = "message"
	HdrContentLength = "content-length"
	HdrContentType   = "content-type"
	HdrAuthorization = "Authorization"
)

var errFrameFormat = errors.New("invalid stomp frame")

// Frame is a single STOMP frame.
type Frame struct {
	Command string
	Header  map[string]string
	Body    []byte
}

// NewFrame creates a frame from alternating header keys and values.
func NewFrame(command string, kv ...string) *Frame {
	f := &Frame{Command: command, Header: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header[kv[i]] = kv[i+1]
	}
	return f
}

// Get returns the header value for key.
func (f *Frame) Get(key string) string {
	if f.Header == nil {
		return ""
	}
	return f.Header[key]
}

// Set sets a header value.
func (f *Frame) Set(key, value string) {
	if f.Header == nil {
		f.Header = make(map[string]string)
	}
	f.Header[key] = value
}

// escapes reports whether header values of this frame are escaped.
// STOMP 1.2 excludes CONNECT and CONNECTED.
func (f *Frame) escapes() bool {
	return f.Command != CmdConnect && f.Command != CmdConnected
}

// Encode serializes the frame. Headers are written in sorted order.
func (f *Frame) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Header))
	for k := range f.Header {
		if k == HdrContentLength {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	esc := f.escapes()
	for _, k := range keys {
		v := f.Header[k]
		if esc {
			k, v = escapeHeader(k), escapeHeader(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		buf.WriteString(HdrContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// heartbeatFrame is the EOL sent as an outgoing heart-beat.
var heartbeatFrame = []byte{'\n'}

// DecodeFrames parses every frame contained in data. Heart-beat EOLs between
// frames are skipped; a message consisting only of EOLs yields no frames.
func DecodeFrames(data []byte) ([]*Frame, error) {
	var frames []*Frame
	for {
		data = skipEOL(data)
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := decodeFrame(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func skipEOL(data []byte) []byte {
	for len(data) > 0 && (data[0] == '\n' || data[0] == '\r') {
		data = data[1:]
	}
	return data
}

func decodeFrame(data []byte) (*Frame, []byte, error) {
	line, data, ok := cutLine(data)
	if !ok || line == "" {
		return nil, nil, fmt.Errorf("%w: missing command", errFrameFormat)
	}

	f := &Frame{Command: line, Header: make(map[string]string)}
	esc := f.escapes()

	for {
		line, data, ok = cutLine(data)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unterminated headers", errFrameFormat)
		}
		if line == "" {
			break
		}
		k, v, found := strings.Cut(line, ":")
		if !found {
			return nil, nil, fmt.Errorf("%w: header %q", errFrameFormat, line)
		}
		if esc {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return nil, nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return nil, nil, err
			}
		}
		// Repeated headers: the first occurrence wins.
		if _, exists := f.Header[k]; !exists {
			f.Header[k] = v
		}
	}

	if cl, ok := f.Header[HdrContentLength]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("%w: content-length %q", errFrameFormat, cl)
		}
		if len(data) < n+1 || data[n] != 0 {
			return nil, nil, fmt.Errorf("%w: body shorter than content-length %d", errFrameFormat, n)
		}
		f.Body = append([]byte(nil), data[:n]...)
		return f, data[n+1:], nil
	}

	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return nil, nil, fmt.Errorf("%w: missing NUL terminator", errFrameFormat)
	}
	if end > 0 {
		f.Body = append([]byte(nil), data[:end]...)
	}
	return f, data[end+1:], nil
}

// cutLine splits off one LF or CRLF terminated line.
func cutLine(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", data, false
	}
	line := data[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return string(line), data[i+1:], true
}

var headerEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\r", `\r`,
	"\n", `\n`,
	":", `\c`,
)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("%w: dangling escape in %q", errFrameFormat, s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("%w: undefined escape \\%c", errFrameFormat, s[i])
		}
	}
	return b.String(), nil
}
