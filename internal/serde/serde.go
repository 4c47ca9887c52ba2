// Package serde encodes snapshots and events as JSON for the CLI and the
// websocket stream.
package serde

import (
	"sync"

	"github.com/ugorji/go/codec"
)

// resolver holds a shared encoder and decoder.
type resolver struct {
	jsonEncoder *codec.Encoder
	jsonDecoder *codec.Decoder
	jsonHandle  codec.JsonHandle

	jsonData []byte

	jsonMu sync.Mutex
}

var gendecoder = newResolver()

func newResolver() *resolver {
	r := &resolver{jsonData: make([]byte, 0, 4096)}
	r.jsonHandle.ErrorIfNoField = true
	r.jsonHandle.ErrorIfNoArrayExpand = true
	r.jsonHandle.Canonical = true
	r.jsonHandle.TypeInfos = codec.NewTypeInfos([]string{"json"})
	r.jsonEncoder = codec.NewEncoderBytes(&r.jsonData, &r.jsonHandle)
	r.jsonDecoder = codec.NewDecoderBytes(nil, &r.jsonHandle)
	return r
}

// MarshalJSON encodes v. The result is a fresh slice owned by the caller.
func MarshalJSON[T any](v T) ([]byte, error) {
	gendecoder.jsonMu.Lock()
	defer gendecoder.jsonMu.Unlock()

	gendecoder.jsonEncoder.ResetBytes(&gendecoder.jsonData)
	if err := gendecoder.jsonEncoder.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, len(gendecoder.jsonData))
	copy(out, gendecoder.jsonData)
	return out, nil
}

// UnmarshalJSON decodes data into v, rejecting unknown fields.
func UnmarshalJSON[T any](data []byte, v T) error {
	gendecoder.jsonMu.Lock()
	defer gendecoder.jsonMu.Unlock()

	gendecoder.jsonDecoder.ResetBytes(data)
	return gendecoder.jsonDecoder.Decode(v)
}
