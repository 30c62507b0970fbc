package http1

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BodyWriteMode selects how an outgoing message frames its body.
type BodyWriteMode int

const (
	WriteFixedLength BodyWriteMode = iota
	WriteChunked
	WriteUntilClose
)

// Writer incrementally frames an outgoing HTTP/1.x request or response:
// one BuildRequestHead or BuildResponseHead call (which returns the
// Writer), then zero or more WriteData calls, then one Finish
// call — mirroring the spec.md framer's "send_data(nullptr, 0) marks
// completion" contract via the explicit Finish method instead of a
// sentinel nil write.
type Writer struct {
	mode       BodyWriteMode
	headerSent bool
}

// BuildRequestHead renders a request line + headers. Header lines are
// written sorted by key, followed by the one framing line this function
// adds itself according to mode (Content-Length, Transfer-Encoding:
// chunked, or Connection: close).
func BuildRequestHead(method, path string, headers map[string]string, mode BodyWriteMode, contentLength int64) ([]byte, *Writer) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, path)
	writeHeaders(&b, headers, mode, contentLength)
	b.WriteString("\r\n")
	return []byte(b.String()), &Writer{mode: mode}
}

// BuildResponseHead renders a status line + headers.
func BuildResponseHead(statusCode int, reason string, headers map[string]string, mode BodyWriteMode, contentLength int64) ([]byte, *Writer) {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", statusCode, reason)
	writeHeaders(&b, headers, mode, contentLength)
	b.WriteString("\r\n")
	return []byte(b.String()), &Writer{mode: mode}
}

func writeHeaders(b *strings.Builder, headers map[string]string, mode BodyWriteMode, contentLength int64) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %s\r\n", k, headers[k])
	}
	switch mode {
	case WriteFixedLength:
		fmt.Fprintf(b, "Content-Length: %s\r\n", strconv.FormatInt(contentLength, 10))
	case WriteChunked:
		b.WriteString("Transfer-Encoding: chunked\r\n")
	case WriteUntilClose:
		b.WriteString("Connection: close\r\n")
	}
}

// WriteData frames one body chunk for sending. For WriteChunked mode
// this produces a chunk-size line + CRLF-terminated chunk; for the
// other modes it returns data unchanged (the caller is expected to have
// sized Content-Length correctly up front, or to rely on connection
// close).
func (w *Writer) WriteData(data []byte) []byte {
	if w.mode != WriteChunked {
		return data
	}
	return []byte(fmt.Sprintf("%x\r\n%s\r\n", len(data), data))
}

// Finish emits the end-of-body marker: the zero-size terminating chunk
// for WriteChunked, or nothing otherwise.
func (w *Writer) Finish() []byte {
	if w.mode == WriteChunked {
		return []byte("0\r\n\r\n")
	}
	return nil
}
