package channel

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Minimal STOMP 1.2 framing, enough to CONNECT, SUBSCRIBE and read MESSAGE frames.
const (
	cmdConnect      = "CONNECT"
	cmdConnected    = "CONNECTED"
	cmdSubscribe    = "SUBSCRIBE"
	cmdDisconnect   = "DISCONNECT"
	cmdMessage      = "MESSAGE"
	cmdReceipt      = "RECEIPT"
	cmdError        = "ERROR"
	frameTerminator = 0x00
)

type frame struct {
	command string
	headers map[string]string
	body    []byte
}

func newFrame(command string, kv ...string) frame {
	f := frame{command: command, headers: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.headers[kv[i]] = kv[i+1]
	}
	return f
}

func (f frame) encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.command)
	buf.WriteByte('\n')
	keys := make([]string, 0, len(f.headers))
	for k := range f.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(escapeHeader(k))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.headers[k]))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.body)
	buf.WriteByte(frameTerminator)
	return buf.Bytes()
}

func decodeFrame(data []byte) (frame, error) {
	// Leading EOLs are heart-beats.
	data = bytes.TrimLeft(data, "\r\n")
	headerEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headerEnd < 0 || crlf < headerEnd) {
		headerEnd, sepLen = crlf, 4
	}
	if headerEnd < 0 {
		return frame{}, errors.NotValidf("stomp frame without header terminator")
	}
	lines := strings.Split(strings.ReplaceAll(string(data[:headerEnd]), "\r\n", "\n"), "\n")
	f := frame{command: lines[0], headers: make(map[string]string, len(lines)-1)}
	if f.command == "" {
		return frame{}, errors.NotValidf("stomp frame without command")
	}
	for _, line := range lines[1:] {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return frame{}, errors.NotValidf("stomp header %q", line)
		}
		key := unescapeHeader(line[:idx])
		// Repeated headers: the first occurrence wins.
		if _, seen := f.headers[key]; !seen {
			f.headers[key] = unescapeHeader(line[idx+1:])
		}
	}

	body := data[headerEnd+sepLen:]
	if raw, ok := f.headers["content-length"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > len(body) {
			return frame{}, errors.NotValidf("stomp content-length %q", raw)
		}
		body = body[:n]
	} else if idx := bytes.IndexByte(body, frameTerminator); idx >= 0 {
		body = body[:idx]
	}
	f.body = body
	return f, nil
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
