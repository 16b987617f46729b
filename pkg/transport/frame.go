package transport

import (
	"encoding/binary"
	"math"

	"github.com/golang/snappy"
)

// Wire frame shared by the socket-based backends:
//
//	[flags:1][sent:8][payload:N]
//
// sent is the sender's transport clock (float64 bits, big endian) at push
// time, used by inlets to estimate clock offsets. Payloads larger than
// compressThreshold are snappy-compressed and flagged.

const (
	frameHeaderSize   = 9
	flagCompressed    = 0x01
	compressThreshold = 512
)

// EncodeFrame wraps a payload with the frame header, compressing large
// payloads.
func EncodeFrame(sent float64, payload []byte) []byte {
	flags := byte(0)
	body := payload
	if len(payload) > compressThreshold {
		compressed := snappy.Encode(nil, payload)
		if len(compressed) < len(payload) {
			flags |= flagCompressed
			body = compressed
		}
	}

	frame := make([]byte, frameHeaderSize+len(body))
	frame[0] = flags
	binary.BigEndian.PutUint64(frame[1:9], math.Float64bits(sent))
	copy(frame[frameHeaderSize:], body)
	return frame
}

// DecodeFrame unwraps a frame, returning the sender timestamp and payload.
func DecodeFrame(frame []byte) (sent float64, payload []byte, err error) {
	if len(frame) < frameHeaderSize {
		return 0, nil, ErrBadFrame
	}
	sent = math.Float64frombits(binary.BigEndian.Uint64(frame[1:9]))
	body := frame[frameHeaderSize:]
	if frame[0]&flagCompressed != 0 {
		payload, err = snappy.Decode(nil, body)
		if err != nil {
			return 0, nil, ErrBadFrame
		}
		return sent, payload, nil
	}
	// Copy so callers can hold the payload after the frame buffer is reused.
	payload = make([]byte, len(body))
	copy(payload, body)
	return sent, payload, nil
}
