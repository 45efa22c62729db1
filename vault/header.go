package vault

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Fixed header layout, all little-endian.
const (
	headerSize = 4096

	offMagic          = 0
	offVersion        = 4
	offFooterOffset   = 8
	offWalOffset      = 16
	offWalSize        = 24
	offWalCheckpoint  = 32
	offWalSequence    = 40
	offTocChecksum    = 48
	tocChecksumLen    = 32
	offLegacyLockMeta = 80
	legacyLockMetaLen = 60 // bytes 80..140
)

var headerMagic = [4]byte{'M', 'V', '2', 0}

// specVersionMajor/Minor are the on-disk spec version this codec writes and
// accepts. decodeHeader rejects any other version.
const (
	specVersionMajor = 1
	specVersionMinor = 0
)

const walOffsetFixed = headerSize

// header is the in-memory form of the fixed 4 KiB file prefix.
type header struct {
	versionMajor  uint8
	versionMinor  uint8
	footerOffset  uint64
	walOffset     uint64
	walSize       uint64
	walCheckpoint uint64
	walSequence   uint64
	tocChecksum   [32]byte
}

// newHeader returns the header written by Create: zeroed WAL state, a
// footer offset pointing immediately after the WAL region, and a zero TOC
// checksum (the caller overwrites it once the initial empty TOC is built).
func newHeader(walSize uint64) header {
	return header{
		versionMajor: specVersionMajor,
		versionMinor: specVersionMinor,
		footerOffset: walOffsetFixed + walSize,
		walOffset:    walOffsetFixed,
		walSize:      walSize,
	}
}

// encode serializes h into a full 4 KiB buffer. It always writes the
// "MV2\0" magic, and validates the version and WAL geometry before writing:
// callers must never persist a header that fails these checks.
func (h header) encode() ([]byte, error) {
	if h.walOffset != walOffsetFixed {
		return nil, &InvalidHeaderError{Reason: "wal_offset must equal 4096"}
	}
	if h.walSize == 0 {
		return nil, &InvalidHeaderError{Reason: "wal_size must be > 0"}
	}
	if h.footerOffset < h.walOffset+h.walSize {
		return nil, &InvalidHeaderError{Reason: "footer_offset must not lie inside the wal region"}
	}
	if h.versionMajor != specVersionMajor || h.versionMinor != specVersionMinor {
		return nil, &InvalidHeaderError{Reason: "unsupported spec version"}
	}

	buf := make([]byte, headerSize)
	copy(buf[offMagic:], headerMagic[:])
	buf[offVersion] = h.versionMajor
	buf[offVersion+1] = h.versionMinor
	binary.LittleEndian.PutUint64(buf[offFooterOffset:], h.footerOffset)
	binary.LittleEndian.PutUint64(buf[offWalOffset:], h.walOffset)
	binary.LittleEndian.PutUint64(buf[offWalSize:], h.walSize)
	binary.LittleEndian.PutUint64(buf[offWalCheckpoint:], h.walCheckpoint)
	binary.LittleEndian.PutUint64(buf[offWalSequence:], h.walSequence)
	copy(buf[offTocChecksum:offTocChecksum+tocChecksumLen], h.tocChecksum[:])
	// bytes 80..140 (legacy lock metadata) and beyond are left zero.

	return buf, nil
}

// decodeHeader validates and parses a 4 KiB header buffer.
//
// It zeroes bytes 80..140 (legacy lock metadata) in place if the caller
// passed a buffer with stale non-zero bytes there: a reader that finds
// legacy lock metadata must scrub it. The caller is responsible for
// flushing the buffer back to disk if zeroed is true.
func decodeHeader(buf []byte) (h header, zeroed bool, err error) {
	if len(buf) != headerSize {
		return header{}, false, &InvalidHeaderError{Reason: "short header buffer"}
	}

	if [4]byte(buf[offMagic:offMagic+4]) != headerMagic {
		return header{}, false, &InvalidHeaderError{Reason: "bad magic"}
	}

	major, minor := buf[offVersion], buf[offVersion+1]
	if major != specVersionMajor || minor != specVersionMinor {
		return header{}, false, &InvalidHeaderError{Reason: "unsupported spec version"}
	}

	h.versionMajor = major
	h.versionMinor = minor
	h.footerOffset = binary.LittleEndian.Uint64(buf[offFooterOffset:])
	h.walOffset = binary.LittleEndian.Uint64(buf[offWalOffset:])
	h.walSize = binary.LittleEndian.Uint64(buf[offWalSize:])
	h.walCheckpoint = binary.LittleEndian.Uint64(buf[offWalCheckpoint:])
	h.walSequence = binary.LittleEndian.Uint64(buf[offWalSequence:])
	copy(h.tocChecksum[:], buf[offTocChecksum:offTocChecksum+tocChecksumLen])

	if h.walOffset != walOffsetFixed {
		return header{}, false, &InvalidHeaderError{Reason: "wal_offset must equal 4096"}
	}
	if h.walSize == 0 {
		return header{}, false, &InvalidHeaderError{Reason: "wal_size must be > 0"}
	}
	if h.footerOffset < h.walOffset+h.walSize {
		return header{}, false, &InvalidHeaderError{Reason: "footer_offset must not lie inside the wal region"}
	}

	legacy := buf[offLegacyLockMeta : offLegacyLockMeta+legacyLockMetaLen]
	for i, b := range legacy {
		if b != 0 {
			zeroed = true
			legacy[i] = 0
		}
	}

	return h, zeroed, nil
}

// walSizeForFileSize picks the tiered WAL ring size from an estimate of
// the total file size the vault is expected to reach.
func walSizeForFileSize(estimatedBytes int64) uint64 {
	const (
		kib = 1 << 10
		mib = 1 << 20
	)

	switch {
	case estimatedBytes <= 0:
		return 64 * kib
	case estimatedBytes < 100*mib:
		return 1 * mib
	case estimatedBytes < 1000*mib:
		return 4 * mib
	case estimatedBytes < 10000*mib:
		return 16 * mib
	default:
		return 64 * mib
	}
}

func blake3Sum(data []byte) [32]byte {
	return blake3.Sum256(data)
}
