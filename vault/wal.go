package vault

import (
	"encoding/binary"
)

// Embedded WAL ring region.
//
// Records are packed sequentially from byte 0 of the region. There is no
// physical wraparound pointer: a checkpoint means every record up to and
// including the checkpoint sequence has already been folded into the TOC,
// so the region is logically empty again and the next record is written
// back at offset 0. A commit truncates the log instead of shuffling
// bytes; records are individually
// checksummed instead of the whole body, because the ring can hold more
// than one generation's pending writes between checkpoints.

const (
	walRecordHeaderLen = 8 + 1 + 4 // seq, kind, payloadLen
	walRecordTrailer   = 32        // blake3 checksum
	walRecordOverhead  = walRecordHeaderLen + walRecordTrailer
)

// WAL record kinds.
const (
	walKindFramePut    uint8 = 1
	walKindStatusFlip  uint8 = 2
	walKindTrackIntent uint8 = 3
)

// walCheckpointEvery bounds how many records may accumulate before a
// checkpoint is forced, independent of occupancy.
const walCheckpointEvery = 1000

// walGrowthThreshold is the occupancy fraction (of wal_size) at which the
// next append first forces a checkpoint. Reaching it does not grow the
// ring: the ring grows to the next size tier only when a record does not
// fit (see logFramePut).
const walGrowthThreshold = 0.75

type walRecord struct {
	seq     uint64
	kind    uint8
	payload []byte
}

// encode serializes a record: seq | kind | len(payload) | payload | blake3.
func (r walRecord) encode() []byte {
	buf := make([]byte, walRecordHeaderLen+len(r.payload)+walRecordTrailer)
	binary.LittleEndian.PutUint64(buf[0:], r.seq)
	buf[8] = r.kind
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(r.payload)))
	copy(buf[walRecordHeaderLen:], r.payload)

	sum := blake3Sum(buf[:walRecordHeaderLen+len(r.payload)])
	copy(buf[walRecordHeaderLen+len(r.payload):], sum[:])

	return buf
}

// walRing tracks the in-memory write position within the on-disk region.
// The region itself lives at [header.walOffset, header.walOffset+header.walSize).
type walRing struct {
	offset uint64
	size   uint64

	tail          uint64 // next write position, relative to offset
	sequence      uint64 // last sequence number assigned
	checkpointSeq uint64 // last sequence number folded into the TOC
}

func newWalRing(offset, size uint64) *walRing {
	return &walRing{offset: offset, size: size}
}

// append appends a new record to the ring, returning the bytes to write at
// absolute file offset (w.offset+w.tail) and the record's assigned
// sequence. Returns ok=false if the record would not fit in the remaining
// ring space; the caller must checkpoint (and possibly grow) first.
func (w *walRing) append(kind uint8, payload []byte) (buf []byte, fileOffset uint64, ok bool) {
	need := uint64(walRecordHeaderLen + len(payload) + walRecordTrailer)
	if w.tail+need > w.size {
		return nil, 0, false
	}

	rec := walRecord{seq: w.sequence + 1, kind: kind, payload: payload}
	encoded := rec.encode()

	fileOffset = w.offset + w.tail
	w.tail += need
	w.sequence = rec.seq

	return encoded, fileOffset, true
}

// occupancyRatio reports how full the ring is relative to wal_size.
func (w *walRing) occupancyRatio() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.tail) / float64(w.size)
}

// pendingCount reports how many records remain unfolded into the TOC.
func (w *walRing) pendingCount() uint64 {
	return w.sequence - w.checkpointSeq
}

// needsCheckpoint reports whether a checkpoint should run before the next
// append: threshold occupancy or 1000 accumulated records.
func (w *walRing) needsCheckpoint() bool {
	return w.occupancyRatio() >= walGrowthThreshold || w.pendingCount() >= walCheckpointEvery
}

// checkpoint marks every currently-assigned record as folded and resets the
// write cursor to the start of the region. The caller is responsible for
// zeroing the leading bytes of the on-disk region and flushing, so a
// subsequent replay doesn't mistake stale bytes for a valid record.
func (w *walRing) checkpoint() {
	w.checkpointSeq = w.sequence
	w.tail = 0
}

// decodeWalRegion reads every well-formed record from a region snapshot and
// returns those with sequence > afterSeq, in order. It stops (without
// error) at the first record that looks like end-of-log: a record whose
// header is entirely zero. Any other malformed header or checksum failure
// is a hard corruption, surfaced as a WalCorruptionError at the offset
// relative to the region start.
func decodeWalRegion(region []byte, afterSeq uint64) ([]walRecord, error) {
	var out []walRecord

	pos := uint64(0)
	for pos+walRecordHeaderLen <= uint64(len(region)) {
		hdr := region[pos : pos+walRecordHeaderLen]

		seq := binary.LittleEndian.Uint64(hdr[0:8])
		kind := hdr[8]
		payloadLen := binary.LittleEndian.Uint32(hdr[9:13])

		if seq == 0 && kind == 0 && payloadLen == 0 {
			// End of log: the rest of the region is unwritten/zeroed tail space.
			break
		}

		recLen := uint64(walRecordHeaderLen) + uint64(payloadLen) + walRecordTrailer
		if pos+recLen > uint64(len(region)) {
			return nil, &WalCorruptionError{Offset: int64(pos), Reason: "record exceeds region bounds"}
		}

		payload := region[pos+walRecordHeaderLen : pos+walRecordHeaderLen+uint64(payloadLen)]
		wantSum := region[pos+walRecordHeaderLen+uint64(payloadLen) : pos+recLen]

		gotSum := blake3Sum(region[pos : pos+walRecordHeaderLen+uint64(payloadLen)])
		if [32]byte(wantSum) != gotSum {
			return nil, &WalCorruptionError{Offset: int64(pos), Reason: "checksum mismatch"}
		}

		if seq > afterSeq {
			payloadCopy := make([]byte, len(payload))
			copy(payloadCopy, payload)
			out = append(out, walRecord{seq: seq, kind: kind, payload: payloadCopy})
		}

		pos += recLen
	}

	return out, nil
}
