// Package http2 implements the HTTP/2 connection core from spec.md
// §4.5: HPACK header compression, frame parsing/writing, connection
// establishment (ALPN "h2" and "Upgrade: h2c"), stream lifecycle, and
// flow control.
//
// HPACK itself is delegated to golang.org/x/net/http2/hpack (already in
// the teacher's go.mod require block) rather than re-implemented — the
// teacher imports golang.org/x/net for other reasons but the HPACK
// sub-package is the exact ecosystem-standard Go HPACK codec, so
// reusing it rather than hand-rolling Huffman/static-table logic is the
// correct call per this project's "use the ecosystem, don't reinvent"
// rule.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package http2

import (
	"bytes"

	"golang.org/x/net/http2/hpack"
)

// HeaderField is a decoded/to-encode HTTP/2 header field.
type HeaderField = hpack.HeaderField

// Encoder incrementally HPACK-encodes header blocks.
type Encoder struct {
	buf *bytes.Buffer
	enc *hpack.Encoder
}

// NewEncoder builds an Encoder with the given dynamic table size.
func NewEncoder(tableSize uint32) *Encoder {
	buf := &bytes.Buffer{}
	enc := hpack.NewEncoder(buf)
	enc.SetMaxDynamicTableSize(tableSize)
	return &Encoder{buf: buf, enc: enc}
}

// EncodeHeaders encodes fields into one header block fragment.
func (e *Encoder) EncodeHeaders(fields []HeaderField) ([]byte, error) {
	e.buf.Reset()
	for _, f := range fields {
		if err := e.enc.WriteField(f); err != nil {
			return nil, err
		}
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out, nil
}

// SetMaxDynamicTableSize applies a peer-advertised
// SETTINGS_HEADER_TABLE_SIZE to the encoder's dynamic table.
func (e *Encoder) SetMaxDynamicTableSize(v uint32) { e.enc.SetMaxDynamicTableSize(v) }

// Decoder incrementally HPACK-decodes header blocks.
type Decoder struct {
	dec    *hpack.Decoder
	fields []HeaderField
}

// NewDecoder builds a Decoder with the given dynamic table size.
func NewDecoder(tableSize uint32) *Decoder {
	d := &Decoder{}
	d.dec = hpack.NewDecoder(tableSize, func(f hpack.HeaderField) {
		d.fields = append(d.fields, f)
	})
	return d
}

// DecodeHeaders decodes one complete header block fragment.
func (d *Decoder) DecodeHeaders(block []byte) ([]HeaderField, error) {
	d.fields = d.fields[:0]
	if _, err := d.dec.Write(block); err != nil {
		return nil, err
	}
	out := make([]HeaderField, len(d.fields))
	copy(out, d.fields)
	return out, nil
}

// SetMaxDynamicTableSize applies a locally-advertised
// SETTINGS_HEADER_TABLE_SIZE change to the decoder.
func (d *Decoder) SetMaxDynamicTableSize(v uint32) { d.dec.SetMaxDynamicTableSize(v) }
