package vault

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Time index track. The canonical checksum is blake3 over
// "MVTI" || count_le || entries_le.

const timeIndexMagic = "MVTI"

type timeIndexEntry struct {
	ts       int64 // unix nanos UTC
	frameID  FrameID
}

// encodeTimeIndex sorts entries ascending by (ts, frame_id) and returns the
// canonical bytes plus their blake3 checksum. Sorting is idempotent:
// encoding an already-sorted slice twice yields identical output.
func encodeTimeIndex(entries []timeIndexEntry) (encoded []byte, checksum [32]byte) {
	sorted := make([]timeIndexEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ts != sorted[j].ts {
			return sorted[i].ts < sorted[j].ts
		}
		return sorted[i].frameID < sorted[j].frameID
	})

	buf := make([]byte, 0, len(timeIndexMagic)+8+len(sorted)*16)
	buf = append(buf, timeIndexMagic...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(sorted)))
	for _, e := range sorted {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ts))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.frameID))
	}

	return buf, blake3Sum(buf)
}

// decodeTimeIndex parses the track and revalidates sort order; an unsorted
// payload (which should never occur unless the track bytes were corrupted
// or hand-crafted) raises InvalidTimeIndex rather than silently re-sorting.
func decodeTimeIndex(buf []byte) ([]timeIndexEntry, error) {
	if len(buf) < len(timeIndexMagic)+8 {
		return nil, fmt.Errorf("%w: short time index", ErrInvalidTimeIndex)
	}
	if string(buf[:len(timeIndexMagic)]) != timeIndexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidTimeIndex)
	}

	pos := len(timeIndexMagic)
	count := binary.LittleEndian.Uint64(buf[pos:])
	pos += 8

	want := pos + int(count)*16
	if want != len(buf) {
		return nil, fmt.Errorf("%w: length mismatch", ErrInvalidTimeIndex)
	}

	entries := make([]timeIndexEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		ts := int64(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		fid := FrameID(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		entries = append(entries, timeIndexEntry{ts: ts, frameID: fid})
	}

	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.ts < prev.ts || (cur.ts == prev.ts && cur.frameID < prev.frameID) {
			return nil, fmt.Errorf("%w: entries not sorted", ErrInvalidTimeIndex)
		}
	}

	return entries, nil
}

// timeIndexChecksum recomputes the canonical checksum for a (sorted)
// encoded track body, used by verify to re-check a stored manifest
// checksum without rebuilding the whole track.
func timeIndexChecksum(encoded []byte) [32]byte {
	return blake3Sum(encoded)
}
