package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame header of a zstd stream. Encoded values that begin
// with it are decompressed on read, so compression can be enabled on a store
// that already holds uncompressed rows.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// NewWriter with a nil writer only fails on invalid options.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// codec serializes checkpoint payloads for the durable backends.
type codec struct {
	compress bool
}

// encode marshals v to JSON, compressing with zstd when enabled.
func (c codec) encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if !c.compress {
		return data, nil
	}
	return zstdEncoder().EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// decode reverses encode. Compressed and plain payloads are both accepted.
func (c codec) decode(data []byte, v interface{}) error {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := zstdDecoder().DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress state: %w", err)
		}
		data = plain
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return nil
}

// Option configures a durable store.
type Option func(*options)

type options struct {
	compress  bool
	keyPrefix string
}

// WithCompression enables zstd compression of serialized state.
func WithCompression() Option {
	return func(o *options) { o.compress = true }
}

// WithKeyPrefix sets the key namespace used by key-value backends
// (Redis, Badger). Defaults to "langgraph".
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{keyPrefix: "langgraph"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
