package vault

import (
	"fmt"
	"sort"
)

// Temporal track: mentions (dates/times/ranges found in frame text) and
// anchors (one canonical timestamp per frame). The two halves are
// independent: the TOC's temporal manifest holds an optional segment for
// each, so a track may carry anchors, mentions, or both.

// MentionKind distinguishes the shape of a recognized temporal mention.
type MentionKind uint8

const (
	MentionDate MentionKind = iota
	MentionDateTime
	MentionRange
)

type mentionKind = MentionKind

type temporalMention struct {
	tsUTC      int64
	frameID    FrameID
	byteStart  uint32
	byteLen    uint32
	kind       mentionKind
	confidence float64
	tzHint     string
	flags      uint8
}

type temporalAnchor struct {
	frameID   FrameID
	anchorTS  int64
	source    string
}

// encodeMentions sorts by (ts_utc, frame_id, byte_start) and serializes.
func encodeMentions(mentions []temporalMention) []byte {
	sorted := make([]temporalMention, len(mentions))
	copy(sorted, mentions)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.tsUTC != b.tsUTC {
			return a.tsUTC < b.tsUTC
		}
		if a.frameID != b.frameID {
			return a.frameID < b.frameID
		}
		return a.byteStart < b.byteStart
	})

	w := &tocWriter{}
	w.u32(uint32(len(sorted)))
	for _, m := range sorted {
		w.i64(m.tsUTC)
		w.u64(uint64(m.frameID))
		w.u32(m.byteStart)
		w.u32(m.byteLen)
		w.u8(uint8(m.kind))
		w.f64(m.confidence)
		w.str(m.tzHint)
		w.u8(m.flags)
	}
	return w.buf
}

func decodeMentions(buf []byte) ([]temporalMention, error) {
	r := &tocReader{buf: buf}

	n, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: mentions: %v", ErrInvalidToc, err)
	}

	out := make([]temporalMention, 0, n)
	for i := uint32(0); i < n; i++ {
		var m temporalMention
		var err error

		if m.tsUTC, err = r.i64(); err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		fid, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		m.frameID = FrameID(fid)
		if m.byteStart, err = r.u32(); err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		if m.byteLen, err = r.u32(); err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		kind, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		m.kind = mentionKind(kind)
		if m.confidence, err = r.f64(); err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		if m.tzHint, err = r.str(); err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}
		if m.flags, err = r.u8(); err != nil {
			return nil, fmt.Errorf("%w: mention %d: %v", ErrInvalidToc, i, err)
		}

		out = append(out, m)
	}

	return out, nil
}

// encodeAnchors sorts by frame_id to support binary-search lookup.
func encodeAnchors(anchors []temporalAnchor) []byte {
	sorted := make([]temporalAnchor, len(anchors))
	copy(sorted, anchors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].frameID < sorted[j].frameID })

	w := &tocWriter{}
	w.u32(uint32(len(sorted)))
	for _, a := range sorted {
		w.u64(uint64(a.frameID))
		w.i64(a.anchorTS)
		w.str(a.source)
	}
	return w.buf
}

func decodeAnchors(buf []byte) ([]temporalAnchor, error) {
	r := &tocReader{buf: buf}

	n, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: anchors: %v", ErrInvalidToc, err)
	}

	out := make([]temporalAnchor, 0, n)
	for i := uint32(0); i < n; i++ {
		fid, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: anchor %d: %v", ErrInvalidToc, i, err)
		}
		ts, err := r.i64()
		if err != nil {
			return nil, fmt.Errorf("%w: anchor %d: %v", ErrInvalidToc, i, err)
		}
		source, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("%w: anchor %d: %v", ErrInvalidToc, i, err)
		}
		out = append(out, temporalAnchor{frameID: FrameID(fid), anchorTS: ts, source: source})
	}

	return out, nil
}

// lookupAnchor binary-searches anchors (sorted by frame_id) for a frame.
func lookupAnchor(anchors []temporalAnchor, id FrameID) (temporalAnchor, bool) {
	i := sort.Search(len(anchors), func(i int) bool { return anchors[i].frameID >= id })
	if i < len(anchors) && anchors[i].frameID == id {
		return anchors[i], true
	}
	return temporalAnchor{}, false
}
