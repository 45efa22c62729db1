package vault

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"
)

// TOC codec. The encoder is a small bespoke binary
// writer (fixed field order, length-prefixed strings, sorted map keys) so
// that encode(decode(x)) is byte-identical for the same logical state, the
// property the commit engine relies on when it re-hashes the TOC.

type segmentDescriptor struct {
	path      string
	offset    uint64
	length    uint64
	checksum  [32]byte
	dimension int32 // -1 means "not applicable"
}

type lexManifest struct {
	segments []segmentDescriptor
}

type vecManifest struct {
	segment   segmentDescriptor
	dimension int
	count     int
	algorithm string // "brute" or "hnsw"
}

type temporalManifest struct {
	mentions *segmentDescriptor
	anchors  *segmentDescriptor
}

type trackManifests struct {
	time     *segmentDescriptor
	lex      *lexManifest
	vec      *vecManifest
	clip     *vecManifest
	temporal *temporalManifest
	sketch   *segmentDescriptor
}

type meshNode struct {
	name        string
	kind        string
	displayName string
	confidence  float64
	mentions    map[FrameID]struct{}
}

type meshEdge struct {
	from     int // index into mesh.nodes
	to       int
	linkType string
}

type meshPayload struct {
	nodes []meshNode
	edges []meshEdge
}

type fileTOC struct {
	frames  []frame
	tracks  trackManifests
	segments []segmentDescriptor
	mesh    *meshPayload
}

// --- primitive writer helpers ---

type tocWriter struct{ buf []byte }

func (w *tocWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *tocWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *tocWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *tocWriter) i32(v int32)  { w.u32(uint32(v)) }
func (w *tocWriter) i64(v int64)  { w.u64(uint64(v)) }
func (w *tocWriter) f64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, mathFloat64bits(v))
}
func (w *tocWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *tocWriter) str(s string) { w.bytes([]byte(s)) }
func (w *tocWriter) bool(b bool) {
	if b {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *tocWriter) strSlice(ss []string) {
	w.u32(uint32(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

// stringMap writes a string->string map with keys sorted ascending, so the
// encoding is deterministic regardless of Go's randomized map iteration.
func (w *tocWriter) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.str(m[k])
	}
}

func (w *tocWriter) segment(s segmentDescriptor) {
	w.str(s.path)
	w.u64(s.offset)
	w.u64(s.length)
	w.buf = append(w.buf, s.checksum[:]...)
	w.i32(s.dimension)
}

// --- primitive reader helpers ---

type tocReader struct {
	buf []byte
	pos int
}

func (r *tocReader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("toc: unexpected eof reading u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *tocReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("toc: unexpected eof reading u32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *tocReader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("toc: unexpected eof reading u64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *tocReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *tocReader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *tocReader) f64() (float64, error) {
	v, err := r.u64()
	if err != nil {
		return 0, err
	}
	return mathFloat64frombits(v), nil
}

func (r *tocReader) bytesN() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("toc: unexpected eof reading %d bytes", n)
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *tocReader) str() (string, error) {
	b, err := r.bytesN()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *tocReader) boolVal() (bool, error) {
	v, err := r.u8()
	return v == 1, err
}

func (r *tocReader) strSlice() ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *tocReader) stringMap() (map[string]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *tocReader) segment() (segmentDescriptor, error) {
	var s segmentDescriptor
	var err error

	if s.path, err = r.str(); err != nil {
		return s, err
	}
	if s.offset, err = r.u64(); err != nil {
		return s, err
	}
	if s.length, err = r.u64(); err != nil {
		return s, err
	}
	if r.pos+32 > len(r.buf) {
		return s, fmt.Errorf("toc: unexpected eof reading checksum")
	}
	copy(s.checksum[:], r.buf[r.pos:r.pos+32])
	r.pos += 32
	if s.dimension, err = r.i32(); err != nil {
		return s, err
	}
	return s, nil
}

// --- frame encode/decode ---

func (w *tocWriter) frame(f frame) {
	w.u64(uint64(f.id))
	w.u8(uint8(f.status))
	w.u8(uint8(f.role))
	w.i64(f.ts.UTC().UnixNano())
	w.str(f.uri)
	w.str(f.title)
	w.str(f.track)
	w.strSlice(f.tags)
	w.stringMap(f.labels)
	w.stringMap(f.metadata)
	w.u64(f.contentOffset)
	w.u64(f.contentLength)
	w.u8(uint8(f.contentEncoding))

	w.bool(f.parentID != nil)
	if f.parentID != nil {
		w.u64(uint64(*f.parentID))
	}

	w.u8(uint8(f.enrichment))
}

func (r *tocReader) frame() (frame, error) {
	var f frame

	id, err := r.u64()
	if err != nil {
		return f, err
	}
	f.id = FrameID(id)

	status, err := r.u8()
	if err != nil {
		return f, err
	}
	f.status = FrameStatus(status)

	role, err := r.u8()
	if err != nil {
		return f, err
	}
	f.role = FrameRole(role)

	tsNano, err := r.i64()
	if err != nil {
		return f, err
	}
	f.ts = time.Unix(0, tsNano).UTC()

	if f.uri, err = r.str(); err != nil {
		return f, err
	}
	if f.title, err = r.str(); err != nil {
		return f, err
	}
	if f.track, err = r.str(); err != nil {
		return f, err
	}
	if f.tags, err = r.strSlice(); err != nil {
		return f, err
	}
	if f.labels, err = r.stringMap(); err != nil {
		return f, err
	}
	if f.metadata, err = r.stringMap(); err != nil {
		return f, err
	}
	if f.contentOffset, err = r.u64(); err != nil {
		return f, err
	}
	if f.contentLength, err = r.u64(); err != nil {
		return f, err
	}

	enc, err := r.u8()
	if err != nil {
		return f, err
	}
	f.contentEncoding = ContentEncoding(enc)

	hasParent, err := r.boolVal()
	if err != nil {
		return f, err
	}
	if hasParent {
		pid, err := r.u64()
		if err != nil {
			return f, err
		}
		fid := FrameID(pid)
		f.parentID = &fid
	}

	enr, err := r.u8()
	if err != nil {
		return f, err
	}
	f.enrichment = EnrichmentState(enr)

	return f, nil
}

// --- mesh encode/decode ---

func (w *tocWriter) meshOpt(m *meshPayload) {
	w.bool(m != nil)
	if m == nil {
		return
	}

	w.u32(uint32(len(m.nodes)))
	for _, n := range m.nodes {
		w.str(n.name)
		w.str(n.kind)
		w.str(n.displayName)
		w.f64(n.confidence)

		ids := make([]FrameID, 0, len(n.mentions))
		for id := range n.mentions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		w.u32(uint32(len(ids)))
		for _, id := range ids {
			w.u64(uint64(id))
		}
	}

	w.u32(uint32(len(m.edges)))
	for _, e := range m.edges {
		w.u32(uint32(e.from))
		w.u32(uint32(e.to))
		w.str(e.linkType)
	}
}

func (r *tocReader) meshOpt() (*meshPayload, error) {
	has, err := r.boolVal()
	if err != nil || !has {
		return nil, err
	}

	m := &meshPayload{}

	nNodes, err := r.u32()
	if err != nil {
		return nil, err
	}
	m.nodes = make([]meshNode, 0, nNodes)
	for i := uint32(0); i < nNodes; i++ {
		var n meshNode
		if n.name, err = r.str(); err != nil {
			return nil, err
		}
		if n.kind, err = r.str(); err != nil {
			return nil, err
		}
		if n.displayName, err = r.str(); err != nil {
			return nil, err
		}
		if n.confidence, err = r.f64(); err != nil {
			return nil, err
		}

		nMentions, err := r.u32()
		if err != nil {
			return nil, err
		}
		n.mentions = make(map[FrameID]struct{}, nMentions)
		for j := uint32(0); j < nMentions; j++ {
			id, err := r.u64()
			if err != nil {
				return nil, err
			}
			n.mentions[FrameID(id)] = struct{}{}
		}

		m.nodes = append(m.nodes, n)
	}

	nEdges, err := r.u32()
	if err != nil {
		return nil, err
	}
	m.edges = make([]meshEdge, 0, nEdges)
	for i := uint32(0); i < nEdges; i++ {
		from, err := r.u32()
		if err != nil {
			return nil, err
		}
		to, err := r.u32()
		if err != nil {
			return nil, err
		}
		linkType, err := r.str()
		if err != nil {
			return nil, err
		}
		m.edges = append(m.edges, meshEdge{from: int(from), to: int(to), linkType: linkType})
	}

	return m, nil
}

// --- track manifest encode/decode ---

func (w *tocWriter) segmentOpt(s *segmentDescriptor) {
	w.bool(s != nil)
	if s != nil {
		w.segment(*s)
	}
}

func (r *tocReader) segmentOpt() (*segmentDescriptor, error) {
	has, err := r.boolVal()
	if err != nil || !has {
		return nil, err
	}
	s, err := r.segment()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (w *tocWriter) tracks(t trackManifests) {
	w.segmentOpt(t.time)

	w.bool(t.lex != nil)
	if t.lex != nil {
		w.u32(uint32(len(t.lex.segments)))
		for _, s := range t.lex.segments {
			w.segment(s)
		}
	}

	writeVec := func(v *vecManifest) {
		w.bool(v != nil)
		if v == nil {
			return
		}
		w.segment(v.segment)
		w.u32(uint32(v.dimension))
		w.u32(uint32(v.count))
		w.str(v.algorithm)
	}
	writeVec(t.vec)
	writeVec(t.clip)

	w.bool(t.temporal != nil)
	if t.temporal != nil {
		w.segmentOpt(t.temporal.mentions)
		w.segmentOpt(t.temporal.anchors)
	}

	w.segmentOpt(t.sketch)
}

func (r *tocReader) tracks() (trackManifests, error) {
	var t trackManifests
	var err error

	if t.time, err = r.segmentOpt(); err != nil {
		return t, err
	}

	hasLex, err := r.boolVal()
	if err != nil {
		return t, err
	}
	if hasLex {
		n, err := r.u32()
		if err != nil {
			return t, err
		}
		lm := &lexManifest{segments: make([]segmentDescriptor, 0, n)}
		for i := uint32(0); i < n; i++ {
			s, err := r.segment()
			if err != nil {
				return t, err
			}
			lm.segments = append(lm.segments, s)
		}
		t.lex = lm
	}

	readVec := func() (*vecManifest, error) {
		has, err := r.boolVal()
		if err != nil || !has {
			return nil, err
		}
		var v vecManifest
		if v.segment, err = r.segment(); err != nil {
			return nil, err
		}
		dim, err := r.u32()
		if err != nil {
			return nil, err
		}
		v.dimension = int(dim)
		cnt, err := r.u32()
		if err != nil {
			return nil, err
		}
		v.count = int(cnt)
		if v.algorithm, err = r.str(); err != nil {
			return nil, err
		}
		return &v, nil
	}

	if t.vec, err = readVec(); err != nil {
		return t, err
	}
	if t.clip, err = readVec(); err != nil {
		return t, err
	}

	hasTemporal, err := r.boolVal()
	if err != nil {
		return t, err
	}
	if hasTemporal {
		tm := &temporalManifest{}
		if tm.mentions, err = r.segmentOpt(); err != nil {
			return t, err
		}
		if tm.anchors, err = r.segmentOpt(); err != nil {
			return t, err
		}
		t.temporal = tm
	}

	if t.sketch, err = r.segmentOpt(); err != nil {
		return t, err
	}

	return t, nil
}

// encodeTOC produces the canonical byte encoding of a fileTOC. The same
// logical state always yields the same bytes: frames are encoded in id
// order (callers must keep t.frames sorted), maps are written with sorted
// keys, and all integers are fixed-width little-endian.
func encodeTOC(t fileTOC) []byte {
	w := &tocWriter{}

	w.u32(uint32(len(t.frames)))
	for _, f := range t.frames {
		w.frame(f)
	}

	w.tracks(t.tracks)

	w.u32(uint32(len(t.segments)))
	for _, s := range t.segments {
		w.segment(s)
	}

	w.meshOpt(t.mesh)

	return w.buf
}

func decodeTOC(buf []byte) (fileTOC, error) {
	r := &tocReader{buf: buf}

	nFrames, err := r.u32()
	if err != nil {
		return fileTOC{}, fmt.Errorf("%w: %v", ErrInvalidToc, err)
	}

	var t fileTOC
	t.frames = make([]frame, 0, nFrames)
	for i := uint32(0); i < nFrames; i++ {
		f, err := r.frame()
		if err != nil {
			return fileTOC{}, fmt.Errorf("%w: frame %d: %v", ErrInvalidToc, i, err)
		}
		t.frames = append(t.frames, f)
	}

	if t.tracks, err = r.tracks(); err != nil {
		return fileTOC{}, fmt.Errorf("%w: tracks: %v", ErrInvalidToc, err)
	}

	nSeg, err := r.u32()
	if err != nil {
		return fileTOC{}, fmt.Errorf("%w: %v", ErrInvalidToc, err)
	}
	t.segments = make([]segmentDescriptor, 0, nSeg)
	for i := uint32(0); i < nSeg; i++ {
		s, err := r.segment()
		if err != nil {
			return fileTOC{}, fmt.Errorf("%w: segment %d: %v", ErrInvalidToc, i, err)
		}
		t.segments = append(t.segments, s)
	}

	if t.mesh, err = r.meshOpt(); err != nil {
		return fileTOC{}, fmt.Errorf("%w: mesh: %v", ErrInvalidToc, err)
	}

	return t, nil
}
