// Package codec serializes cached values as deterministic CBOR, compressing
// large payloads with zstd.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Frame markers precede every encoded value.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

var errEmpty = errors.New("codec: empty payload")

// Codec encodes values for the cache. It is safe for concurrent use.
type Codec struct {
	enc       cbor.EncMode
	dec       cbor.DecMode
	zenc      *zstd.Encoder
	zdec      *zstd.Decoder
	threshold int
}

// New returns a Codec that compresses encoded values larger than threshold
// bytes. A threshold <= 0 disables compression.
func New(threshold int) (*Codec, error) {
	encOptions := cbor.CoreDetEncOptions()
	// timestamps keep nanoseconds; response times are measured in milliseconds
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: encoder mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("codec: decoder mode: %w", err)
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd writer: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd reader: %w", err)
	}
	return &Codec{enc: enc, dec: dec, zenc: zenc, zdec: zdec, threshold: threshold}, nil
}

// MustNew is New for fixed thresholds known to be valid.
func MustNew(threshold int) *Codec {
	c, err := New(threshold)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) Marshal(v any) ([]byte, error) {
	raw, err := c.enc.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.threshold > 0 && len(raw) > c.threshold {
		out := make([]byte, 1, len(raw)/2+1)
		out[0] = frameZstd
		return c.zenc.EncodeAll(raw, out), nil
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, frameRaw)
	return append(out, raw...), nil
}

func (c *Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return errEmpty
	}
	body := data[1:]
	switch data[0] {
	case frameRaw:
	case frameZstd:
		decoded, err := c.zdec.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("codec: zstd: %w", err)
		}
		body = decoded
	default:
		return fmt.Errorf("codec: unknown frame 0x%02x", data[0])
	}
	return c.dec.Unmarshal(body, v)
}

// Equal reports whether two values encode identically.
func (c *Codec) Equal(a, b any) bool {
	ea, err := c.enc.Marshal(a)
	if err != nil {
		return false
	}
	eb, err := c.enc.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
