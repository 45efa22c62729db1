package vault

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/sunilkgrao/mv2vault/pkg/fs"
)

// Data-region writer/reader for the append-only data region:
// frame payloads and serialized track bytes are always written before the
// TOC/footer that reference them, at the current end-of-file, so a crash
// mid-write never corrupts a previously committed generation (the old
// footer is simply buried deeper in the file, still reachable by the
// backward scan in footer.go).

var zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil)
var zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)

// encodeContent compresses payload per enc, or returns it unchanged for
// EncodingPlain.
func encodeContent(payload []byte, enc ContentEncoding) ([]byte, error) {
	switch enc {
	case EncodingPlain:
		return payload, nil
	case EncodingZstd:
		if zstdEncoderErr != nil {
			return nil, fmt.Errorf("zstd encoder unavailable: %w", zstdEncoderErr)
		}
		return zstdEncoder.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown content encoding %d", ErrInvalidFrame, enc)
	}
}

// decodeContent reverses encodeContent.
func decodeContent(raw []byte, enc ContentEncoding) ([]byte, error) {
	switch enc {
	case EncodingPlain:
		return raw, nil
	case EncodingZstd:
		if zstdDecoderErr != nil {
			return nil, fmt.Errorf("zstd decoder unavailable: %w", zstdDecoderErr)
		}
		return zstdDecoder.DecodeAll(raw, nil)
	default:
		return nil, fmt.Errorf("%w: unknown content encoding %d", ErrInvalidFrame, enc)
	}
}

// appendDataRegion writes buf at the vault's current append cursor and
// advances it, returning the absolute offset the bytes were written at.
func appendDataRegion(fh fs.File, cursor *uint64, buf []byte) (uint64, error) {
	offset := *cursor
	if len(buf) > 0 {
		if _, err := fh.Seek(int64(offset), 0); err != nil {
			return 0, fmt.Errorf("seek data region: %w", err)
		}
		if _, err := fh.Write(buf); err != nil {
			return 0, fmt.Errorf("write data region: %w", err)
		}
	}
	*cursor = offset + uint64(len(buf))
	return offset, nil
}

// readDataRegion reads length bytes at offset from fh.
func readDataRegion(fh fs.File, offset, length uint64) ([]byte, error) {
	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	if _, err := fh.Seek(int64(offset), 0); err != nil {
		return nil, fmt.Errorf("seek data region: %w", err)
	}
	n := 0
	for n < len(buf) {
		m, err := fh.Read(buf[n:])
		if m > 0 {
			n += m
		}
		if err != nil {
			return nil, fmt.Errorf("read data region at %d: %w", offset, err)
		}
	}
	return buf, nil
}
