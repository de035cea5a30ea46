// Package compress implements the optional block compressor collaborator
// named by the spec: max-compressed-length bound plus compress/uncompress.
package compress

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/weicao/cascadb/options"
)

// Compressor matches the collaborator interface in spec.md §6.
type Compressor interface {
	MaxCompressedLength(n int) int
	Compress(in []byte) (out []byte, err error)
	Uncompress(in []byte, uncompressedLen int) (out []byte, err error)
}

// New returns the Compressor for the given kind, or nil for CompressNone
// (callers treat a nil Compressor as "store verbatim").
func New(kind options.CompressKind) Compressor {
	switch kind {
	case options.CompressSnappy:
		return snappyCompressor{}
	default:
		return nil
	}
}

type snappyCompressor struct{}

func (snappyCompressor) MaxCompressedLength(n int) int {
	return snappy.MaxEncodedLen(n)
}

func (snappyCompressor) Compress(in []byte) ([]byte, error) {
	dst := make([]byte, snappy.MaxEncodedLen(len(in)))
	out := snappy.Encode(dst, in)
	return out, nil
}

func (snappyCompressor) Uncompress(in []byte, uncompressedLen int) ([]byte, error) {
	dst := make([]byte, uncompressedLen)
	out, err := snappy.Decode(dst, in)
	if err != nil {
		return nil, fmt.Errorf("compress: snappy decode: %w", err)
	}
	if len(out) != uncompressedLen {
		return nil, fmt.Errorf("compress: snappy decode produced %d bytes, want %d", len(out), uncompressedLen)
	}
	return out, nil
}
