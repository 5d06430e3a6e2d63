// Package codec is the binary encoding used for document updates and item
// values: deterministic CBOR, zstd-compressed once a payload grows past
// CompressThreshold. Every encoded payload starts with one framing byte.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// CompressThreshold is the CBOR size above which payloads are compressed.
const CompressThreshold = 1024

// MaxDecodedSize caps what one compressed payload may expand to. It is four
// times the relay's default frame read limit.
const MaxDecodedSize = 16 << 20

var (
	ErrEmpty        = errors.New("codec: empty payload")
	ErrUnknownFrame = errors.New("codec: unknown frame type")
)

var (
	initOnce sync.Once
	initErr  error
	encMode  cbor.EncMode
	decMode  cbor.DecMode
	zenc     *zstd.Encoder
	zdec     *zstd.Decoder
)

func setup() error {
	initOnce.Do(func() {
		if encMode, initErr = cbor.CoreDetEncOptions().EncMode(); initErr != nil {
			return
		}
		if decMode, initErr = (cbor.DecOptions{}).DecMode(); initErr != nil {
			return
		}
		if zenc, initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); initErr != nil {
			return
		}
		zdec, initErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	})
	return initErr
}

// Marshal encodes v as framed CBOR.
func Marshal(v any) ([]byte, error) {
	if err := setup(); err != nil {
		return nil, err
	}
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	if len(raw) <= CompressThreshold {
		return append([]byte{frameRaw}, raw...), nil
	}
	out := make([]byte, 1, len(raw)/2)
	out[0] = frameZstd
	return zenc.EncodeAll(raw, out), nil
}

// Unmarshal decodes a payload produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	if err := setup(); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmpty
	}
	body := data[1:]
	switch data[0] {
	case frameRaw:
	case frameZstd:
		var err error
		if body, err = zdec.DecodeAll(body, nil); err != nil {
			return fmt.Errorf("codec: decompress: %w", err)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFrame, data[0])
	}
	if err := decMode.Unmarshal(body, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// Compressed reports whether data was zstd-framed by Marshal.
func Compressed(data []byte) bool {
	return len(data) > 0 && data[0] == frameZstd
}
