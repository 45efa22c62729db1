package vault

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/coder/hnsw"
)

// Vector (and, via the same code, CLIP) index track. Below
// `vecHnswThreshold` vectors, search does a linear L2 scan;
// at or above it, an in-memory github.com/coder/hnsw graph is built from
// the same stored vectors and used for approximate search instead. Either
// way the on-disk segment is the same flat `{frame_id, []float32}` list —
// the algorithm tag in the TOC's vecManifest records which search strategy
// produced results, not a different on-disk shape, so a track built as
// "hnsw" can still be re-scanned exactly by doctor/verify without needing
// to deserialize a bespoke graph format.
const vecHnswThreshold = 2000

type vecEntry struct {
	frameID FrameID
	vec     []float32
}

type vecTrack struct {
	dimension int
	entries   []vecEntry
	algorithm string
	graph     *hnsw.Graph[uint64] // lazily built, only for algorithm == "hnsw"
}

func newVecTrack() *vecTrack {
	return &vecTrack{dimension: -1}
}

// checkDimension validates dimension uniformity without
// mutating the track, so callers can reject an insert before touching any
// other vault state.
func (t *vecTrack) checkDimension(vec []float32) error {
	if t.dimension != -1 && len(vec) != t.dimension {
		return &VecDimensionMismatchError{Expected: t.dimension, Actual: len(vec)}
	}
	return nil
}

// add validates dimension uniformity before appending.
func (t *vecTrack) add(id FrameID, vec []float32) error {
	if err := t.checkDimension(vec); err != nil {
		return err
	}
	if t.dimension == -1 {
		t.dimension = len(vec)
	}

	t.entries = append(t.entries, vecEntry{frameID: id, vec: vec})
	return nil
}

func (t *vecTrack) finalize() {
	if len(t.entries) >= vecHnswThreshold {
		t.algorithm = "hnsw"
	} else {
		t.algorithm = "brute"
	}
}

func (t *vecTrack) buildGraph() {
	if t.graph != nil {
		return
	}
	g := hnsw.NewGraph[uint64]()
	for _, e := range t.entries {
		g.Add(hnsw.MakeNode(uint64(e.frameID), hnsw.Vector(e.vec)))
	}
	t.graph = g
}

// VecHit is one ranked result from SearchVec: smaller Distance is closer.
type VecHit struct {
	FrameID  FrameID
	Distance float64
}

func (t *vecTrack) search(query []float32, topK int) ([]VecHit, error) {
	if t.dimension != -1 && len(query) != t.dimension {
		return nil, &VecDimensionMismatchError{Expected: t.dimension, Actual: len(query)}
	}

	if t.algorithm == "hnsw" && len(t.entries) > 0 {
		t.buildGraph()
		results := t.graph.Search(hnsw.Vector(query), topK)
		hits := make([]VecHit, 0, len(results))
		for _, n := range results {
			hits = append(hits, VecHit{FrameID: FrameID(n.Key), Distance: l2Distance(query, []float32(n.Value))})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
		return hits, nil
	}

	hits := make([]VecHit, 0, len(t.entries))
	for _, e := range t.entries {
		hits = append(hits, VecHit{FrameID: e.frameID, Distance: l2Distance(query, e.vec)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].FrameID < hits[j].FrameID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// l2Distance computes Euclidean distance, unrolled 8-wide when the
// dimension allows it (the Go compiler autovectorizes this loop shape on
// amd64/arm64), falling
// back to a scalar tail for the remainder.
func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var sum float64
	i := 0
	for ; i+8 <= n; i += 8 {
		for j := 0; j < 8; j++ {
			d := float64(a[i+j] - b[i+j])
			sum += d * d
		}
	}
	for ; i < n; i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}

	return math.Sqrt(sum)
}

func encodeVecSegment(t *vecTrack) []byte {
	w := &tocWriter{}
	w.u32(uint32(t.dimension))
	w.u32(uint32(len(t.entries)))

	sorted := make([]vecEntry, len(t.entries))
	copy(sorted, t.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].frameID < sorted[j].frameID })

	for _, e := range sorted {
		w.u64(uint64(e.frameID))
		for _, f := range e.vec {
			w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(f))
		}
	}
	return w.buf
}

func decodeVecSegment(buf []byte, algorithm string) (*vecTrack, error) {
	r := &tocReader{buf: buf}

	dim, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: vec segment: %v", ErrInvalidToc, err)
	}
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: vec segment: %v", ErrInvalidToc, err)
	}

	t := &vecTrack{dimension: int(dim), algorithm: algorithm}
	for i := uint32(0); i < count; i++ {
		fid, err := r.u64()
		if err != nil {
			return nil, fmt.Errorf("%w: vec entry %d: %v", ErrInvalidToc, i, err)
		}

		vec := make([]float32, dim)
		for j := uint32(0); j < dim; j++ {
			if r.pos+4 > len(r.buf) {
				return nil, fmt.Errorf("%w: vec entry %d component %d: eof", ErrInvalidToc, i, j)
			}
			bits := binary.LittleEndian.Uint32(r.buf[r.pos:])
			r.pos += 4
			vec[j] = math.Float32frombits(bits)
		}

		t.entries = append(t.entries, vecEntry{frameID: FrameID(fid), vec: vec})
	}

	return t, nil
}
