package vault

import (
	"encoding/binary"
)

// Commit footer: a fixed 56-byte trailer that atomically seals a TOC. The
// presence of a valid footer is the only proof a generation committed.
const (
	footerSize    = 56
	footerMagic   = "MV2FOOT!"
	footerMagicLen = 8

	footerOffTocLen      = 8
	footerOffTocHash     = 16
	footerTocHashLen     = 32
	footerOffGeneration  = 48
)

type commitFooter struct {
	tocLen     uint64
	tocHash    [32]byte
	generation uint64
}

func (f commitFooter) encode() []byte {
	buf := make([]byte, footerSize)
	copy(buf[0:footerMagicLen], footerMagic)
	binary.LittleEndian.PutUint64(buf[footerOffTocLen:], f.tocLen)
	copy(buf[footerOffTocHash:footerOffTocHash+footerTocHashLen], f.tocHash[:])
	binary.LittleEndian.PutUint64(buf[footerOffGeneration:], f.generation)
	return buf
}

func decodeFooter(buf []byte) (commitFooter, bool) {
	if len(buf) != footerSize {
		return commitFooter{}, false
	}
	if string(buf[0:footerMagicLen]) != footerMagic {
		return commitFooter{}, false
	}

	var f commitFooter
	f.tocLen = binary.LittleEndian.Uint64(buf[footerOffTocLen:])
	copy(f.tocHash[:], buf[footerOffTocHash:footerOffTocHash+footerTocHashLen])
	f.generation = binary.LittleEndian.Uint64(buf[footerOffGeneration:])

	return f, true
}

// findLastValidFooter scans `content` (the bytes of the file from the end
// of the WAL region to EOF, i.e. the data region + TOC + footer area)
// backward for the byte 'M' (the first byte of "MV2FOOT!"), and at each
// candidate verifies that the 56-byte slice decodes to a well-formed footer
// and that the toc_len bytes immediately preceding it hash to toc_hash.
//
// The first (rightmost, i.e. newest) match wins. Older or corrupt footers
// between EOF and the valid one are tolerated and ignored.
//
// tocBaseOffset is the absolute file offset at which `content` begins, so
// the returned footerOffset/tocOffset are absolute.
func findLastValidFooter(content []byte, tocBaseOffset int64) (foundFooter commitFooter, footerOffset int64, tocOffset int64, ok bool) {
	for i := len(content) - 1; i >= 0; i-- {
		if content[i] != 'M' {
			continue
		}
		if i+footerSize > len(content) {
			continue
		}
		if string(content[i:i+footerMagicLen]) != footerMagic {
			continue
		}

		f, decoded := decodeFooter(content[i : i+footerSize])
		if !decoded {
			continue
		}

		if f.tocLen > uint64(i) {
			continue
		}
		tocStart := int64(i) - int64(f.tocLen)

		toc := content[tocStart:i]
		sum := blake3Sum(toc)
		if sum != f.tocHash {
			continue
		}

		return f, tocBaseOffset + int64(i), tocBaseOffset + tocStart, true
	}

	return commitFooter{}, 0, 0, false
}

// findLastStructuralFooter is findLastValidFooter without the toc_hash
// check: it only requires the magic and footer bounds to be well-formed.
// It exists for recovery (doctor's HealTocChecksum): when the newest
// footer's trailer bytes are damaged but the TOC bytes it points at are
// still intact, this locates that candidate so the caller can recompute
// the hash and re-seal, rather than declaring the whole file unrecoverable.
func findLastStructuralFooter(content []byte, tocBaseOffset int64) (foundFooter commitFooter, footerOffset int64, tocOffset int64, ok bool) {
	for i := len(content) - 1; i >= 0; i-- {
		if content[i] != 'M' {
			continue
		}
		if i+footerSize > len(content) {
			continue
		}
		if string(content[i:i+footerMagicLen]) != footerMagic {
			continue
		}

		f, decoded := decodeFooter(content[i : i+footerSize])
		if !decoded {
			continue
		}

		if f.tocLen > uint64(i) {
			continue
		}
		tocStart := int64(i) - int64(f.tocLen)

		return f, tocBaseOffset + int64(i), tocBaseOffset + tocStart, true
	}

	return commitFooter{}, 0, 0, false
}
