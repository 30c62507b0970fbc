package websocket

// Extension is one link in the outgoing/incoming message pipeline
// (spec.md §4.7): HandleOutgoing runs before a message is framed and
// sent; HandleIncoming runs after a complete message is reassembled
// from frames and before it's delivered to the application.
type Extension interface {
	// HandleOutgoing transforms a message payload before framing.
	// rsv1 reports whether the RSV1 bit must be set on the resulting
	// frame (permessage-deflate's "this message is compressed" flag).
	HandleOutgoing(payload []byte) (out []byte, rsv1 bool, err error)
	// HandleIncoming reverses HandleOutgoing given the RSV1 bit observed
	// on the inbound message's first frame.
	HandleIncoming(payload []byte, rsv1 bool) ([]byte, error)
}

// Pipeline chains zero or more Extensions, applied in registration order
// outgoing and reverse order incoming (mirroring RFC 7692 §5's layering
// rule for multiple negotiated extensions).
type Pipeline struct {
	exts []Extension
}

// NewPipeline builds a Pipeline from exts, applied outgoing in the given
// order and incoming in reverse.
func NewPipeline(exts ...Extension) *Pipeline {
	return &Pipeline{exts: exts}
}

// HandleOutgoing runs every extension's HandleOutgoing in order.
func (p *Pipeline) HandleOutgoing(payload []byte) (out []byte, rsv1 bool, err error) {
	out = payload
	for _, e := range p.exts {
		var r bool
		out, r, err = e.HandleOutgoing(out)
		if err != nil {
			return nil, false, err
		}
		rsv1 = rsv1 || r
	}
	return out, rsv1, nil
}

// HandleIncoming runs every extension's HandleIncoming in reverse order.
func (p *Pipeline) HandleIncoming(payload []byte, rsv1 bool) ([]byte, error) {
	out := payload
	var err error
	for i := len(p.exts) - 1; i >= 0; i-- {
		out, err = p.exts[i].HandleIncoming(out, rsv1)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// deflateExtension adapts *PermessageDeflate to the Extension interface.
type deflateExtension struct {
	pmd *PermessageDeflate
}

// NewDeflateExtension wraps pmd as a pipeline Extension.
func NewDeflateExtension(pmd *PermessageDeflate) Extension {
	return &deflateExtension{pmd: pmd}
}

func (d *deflateExtension) HandleOutgoing(payload []byte) ([]byte, bool, error) {
	out, ok, err := d.pmd.CompressMessage(payload)
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (d *deflateExtension) HandleIncoming(payload []byte, rsv1 bool) ([]byte, error) {
	if !rsv1 {
		return payload, nil
	}
	return d.pmd.DecompressMessage(payload)
}
