package websocket

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"

	"github.com/momentics/netcore/api"
)

// deflateTrailer is the 4-byte sequence RFC 7692 §7.2.1 says a sender
// appends before compressing and a receiver appends before inflating,
// then strips from what it actually delivers.
var deflateTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// finalEmptyBlock is an empty stored block with BFINAL set; appended
// after the trailer so the inflater sees a terminated stream instead of
// reporting an unexpected EOF.
var finalEmptyBlock = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// PermessageDeflate implements the permessage-deflate extension
// (spec.md §4.7) over compress/flate — the teacher has no compression
// code of its own (spec.md's Non-goals explicitly carve "the
// compression codec" out as an external collaborator), so this is
// grounded directly on the standard library rather than a pack repo.
type PermessageDeflate struct {
	noContextTakeover bool

	mu       sync.Mutex
	writer   *flate.Writer
	resetted bool
}

// NewPermessageDeflate constructs the extension. noContextTakeover
// makes CompressMessage build a new flate.Writer per message; without
// it the writer is Reset, which also discards its dictionary. Either
// way, no dictionary state is carried across messages: every message is
// compressed and inflated with a fresh context.
func NewPermessageDeflate(noContextTakeover bool) *PermessageDeflate {
	w, _ := flate.NewWriter(nil, flate.DefaultCompression)
	return &PermessageDeflate{noContextTakeover: noContextTakeover, writer: w}
}

// CompressMessage compresses one complete WebSocket message payload,
// stripping the trailing empty-deflate-block per RFC 7692. If the
// compressed form is not smaller than the original, the original is
// returned unmodified and ok is false — callers should then send the
// frame without setting RSV1 (spec.md's fallback-to-uncompressed rule).
func (p *PermessageDeflate) CompressMessage(payload []byte) (out []byte, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	if p.noContextTakeover || p.resetted {
		w, werr := flate.NewWriter(&buf, flate.DefaultCompression)
		if werr != nil {
			return nil, false, api.NewError(api.FAILED, "websocket.CompressMessage", "flate writer init failed", werr)
		}
		p.writer = w
	} else {
		p.writer.Reset(&buf)
	}
	p.resetted = p.noContextTakeover

	if _, err := p.writer.Write(payload); err != nil {
		return nil, false, api.NewError(api.FAILED, "websocket.CompressMessage", "deflate write failed", err)
	}
	if err := p.writer.Flush(); err != nil {
		return nil, false, api.NewError(api.FAILED, "websocket.CompressMessage", "deflate flush failed", err)
	}

	compressed := buf.Bytes()
	compressed = bytes.TrimSuffix(compressed, deflateTrailer)

	if len(compressed) >= len(payload) {
		return payload, false, nil
	}
	result := make([]byte, len(compressed))
	copy(result, compressed)
	return result, true, nil
}

// DecompressMessage reverses CompressMessage: it re-appends the stripped
// trailer and inflates.
func (p *PermessageDeflate) DecompressMessage(payload []byte) ([]byte, error) {
	withTrailer := append(append([]byte(nil), payload...), deflateTrailer...)
	withTrailer = append(withTrailer, finalEmptyBlock...)
	r := flate.NewReader(bytes.NewReader(withTrailer))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, api.NewError(api.FAILED, "websocket.DecompressMessage", "inflate failed", err)
	}
	return out, nil
}
