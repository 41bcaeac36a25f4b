package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payload headers. Every stored value starts with one of these bytes.
const (
	headerRaw  byte = 'r'
	headerZstd byte = 'z'
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodePayload compresses data when it reaches threshold bytes; threshold
// <= 0 disables compression.
func encodePayload(data []byte, threshold int) []byte {
	if threshold > 0 && len(data) >= threshold {
		out := make([]byte, 1, len(data)/2+1)
		out[0] = headerZstd
		return zstdEncoder.EncodeAll(data, out)
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, headerRaw)
	return append(out, data...)
}

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty cache payload")
	}
	switch payload[0] {
	case headerRaw:
		return payload[1:], nil
	case headerZstd:
		data, err := zstdDecoder.DecodeAll(payload[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decompress cache payload: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown cache payload header %q", payload[0])
	}
}
