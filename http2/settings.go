package http2

import (
	"encoding/binary"

	"github.com/momentics/netcore/api"
)

// SettingID identifies one HTTP/2 SETTINGS parameter (RFC 7540 §6.5.2).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

// Settings holds one peer's negotiated SETTINGS values, seeded with
// RFC 7540 §6.5.2's defaults.
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultSettings returns the spec-mandated initial values before any
// SETTINGS frame has been exchanged.
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: 1<<32 - 1, // "unlimited" per RFC 7540 §6.5.2
		InitialWindowSize:    65535,
		MaxFrameSize:         DefaultInitialFrameSize,
		MaxHeaderListSize:    1<<32 - 1,
	}
}

// EncodeSettings serializes a SETTINGS frame payload (not including the
// 9-byte frame header) for the given (changed) parameters.
func EncodeSettings(params map[SettingID]uint32) []byte {
	out := make([]byte, 0, 6*len(params))
	for id, v := range params {
		var entry [6]byte
		binary.BigEndian.PutUint16(entry[0:2], uint16(id))
		binary.BigEndian.PutUint32(entry[2:6], v)
		out = append(out, entry[:]...)
	}
	return out
}

// ApplySettingsFrame decodes a SETTINGS frame payload and applies each
// parameter to s, returning which parameters changed.
func ApplySettingsFrame(s *Settings, payload []byte) (map[SettingID]uint32, error) {
	if len(payload)%6 != 0 {
		return nil, api.NewError(api.ProtoError, "http2.ApplySettingsFrame", "malformed SETTINGS payload", nil)
	}
	changed := make(map[SettingID]uint32)
	for i := 0; i < len(payload); i += 6 {
		id := SettingID(binary.BigEndian.Uint16(payload[i : i+2]))
		v := binary.BigEndian.Uint32(payload[i+2 : i+6])
		changed[id] = v
		switch id {
		case SettingHeaderTableSize:
			s.HeaderTableSize = v
		case SettingEnablePush:
			if v > 1 {
				return nil, api.NewError(api.ProtoError, "http2.ApplySettingsFrame", "invalid ENABLE_PUSH value", nil)
			}
			s.EnablePush = v == 1
		case SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = v
		case SettingInitialWindowSize:
			if v > 1<<31-1 {
				return nil, api.NewError(api.ProtoError, "http2.ApplySettingsFrame", "INITIAL_WINDOW_SIZE too large", nil)
			}
			s.InitialWindowSize = v
		case SettingMaxFrameSize:
			if v < DefaultInitialFrameSize || v > MaxAllowedFrameSize {
				return nil, api.NewError(api.ProtoError, "http2.ApplySettingsFrame", "MAX_FRAME_SIZE out of range", nil)
			}
			s.MaxFrameSize = v
		case SettingMaxHeaderListSize:
			s.MaxHeaderListSize = v
		}
		// unknown settings IDs are ignored per RFC 7540 §6.5.2.
	}
	return changed, nil
}
