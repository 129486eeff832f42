// Package compress implements C2: a pluggable compress/decompress pair
// applied per block. Identity ("none") is always available; additional
// methods are optional and, once chosen at database-creation time, fixed
// for the life of the store. Registry shape grounded on
// KarpelesLab-squashfs's named-constant compressor registration
// (comp.go, comp_zstd.go).
package compress

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses byte blocks. decompress(compress(x))
// must equal x for all x.
type Codec interface {
	Name() string
	Compress(block []byte) ([]byte, error)
	Decompress(block []byte) ([]byte, error)
}

// Default is used when the caller does not request compression at
// database-creation time.
const Default = "none"

var registry = map[string]func() Codec{
	"none":  func() Codec { return identityCodec{} },
	"flate": func() Codec { return flateCodec{} },
	"zstd":  func() Codec { return zstdCodec{} },
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("compress: unknown compression method %q", name)
	}
	return ctor(), nil
}

// Valid reports whether name is a registered compression method.
func Valid(name string) bool {
	_, ok := registry[name]
	return ok
}

type identityCodec struct{}

func (identityCodec) Name() string                       { return "none" }
func (identityCodec) Compress(b []byte) ([]byte, error)   { return b, nil }
func (identityCodec) Decompress(b []byte) ([]byte, error) { return b, nil }

type flateCodec struct{}

func (flateCodec) Name() string { return "flate" }

func (flateCodec) Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (flateCodec) Decompress(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return io.ReadAll(r)
}

// zstdCodec wraps klauspost/compress/zstd, the indirect gcsfuse dependency
// made a direct one here for the block-level compression layer.
type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Compress(b []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil), nil
}

func (zstdCodec) Decompress(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}
