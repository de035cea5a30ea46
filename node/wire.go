package node

import (
	"github.com/weicao/cascadb/cascaerr"
	"github.com/weicao/cascadb/compress"
	"github.com/weicao/cascadb/crcutil"
	"github.com/weicao/cascadb/options"
)

// encodeSegment turns one logical blob (a serialized buffer or bucket)
// into its on-disk form: optionally compressed, always CRC16-checked
// (spec.md §4.5.8/§4.5.9's per-segment Offset/Length/Uncompressed/CRC
// descriptor fields). length is the on-disk (possibly compressed) size;
// uncompressed is the logical size ReadRange-based callers must expect
// back after decodeSegment.
func encodeSegment(raw []byte, o options.Options) (stored []byte, length, uncompressed uint32, crc uint16, err error) {
	uncompressed = uint32(len(raw))
	stored = raw
	if c := compress.New(o.Compress); c != nil {
		stored, err = c.Compress(raw)
		if err != nil {
			return nil, 0, 0, 0, err
		}
	}
	length = uint32(len(stored))
	crc = crcutil.CRC16(stored)
	return stored, length, uncompressed, crc, nil
}

// decodeSegment reverses encodeSegment: CRC-verifies (when o.CheckCRC
// is set) then decompresses.
func decodeSegment(stored []byte, uncompressed uint32, crc uint16, o options.Options) ([]byte, error) {
	if o.CheckCRC && !crcutil.Verify(stored, crc) {
		return nil, cascaerr.ErrCorruptBlock
	}
	c := compress.New(o.Compress)
	if c == nil || uint32(len(stored)) == uncompressed {
		return stored, nil
	}
	out, err := c.Uncompress(stored, int(uncompressed))
	if err != nil {
		return nil, err
	}
	return out, nil
}
