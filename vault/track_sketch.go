package vault

import (
	"fmt"

	"github.com/axiomhq/hyperloglog"
)

// Sketch track: approximate cardinality estimators, not an exact index.
// Two independent sketches are kept: one over frame content (estimating
// distinct payloads, useful for dedup-rate reporting) and one over tag
// strings (estimating distinct-tag cardinality for Stats).
type sketchTrack struct {
	content *hyperloglog.Sketch
	tags    *hyperloglog.Sketch
}

func newSketchTrack() *sketchTrack {
	return &sketchTrack{
		content: hyperloglog.New(),
		tags:    hyperloglog.New(),
	}
}

func (s *sketchTrack) observeFrame(contentHash [32]byte, tags []string) {
	s.content.Insert(contentHash[:])
	for _, t := range tags {
		s.tags.Insert([]byte(t))
	}
}

func (s *sketchTrack) distinctContent() uint64 { return s.content.Estimate() }
func (s *sketchTrack) distinctTags() uint64    { return s.tags.Estimate() }

func encodeSketchSegment(s *sketchTrack) ([]byte, error) {
	contentBytes, err := s.content.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal content sketch: %w", err)
	}
	tagBytes, err := s.tags.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal tag sketch: %w", err)
	}

	w := &tocWriter{}
	w.bytes(contentBytes)
	w.bytes(tagBytes)
	return w.buf, nil
}

func decodeSketchSegment(buf []byte) (*sketchTrack, error) {
	r := &tocReader{buf: buf}

	contentBytes, err := r.bytesN()
	if err != nil {
		return nil, fmt.Errorf("%w: sketch content: %v", ErrInvalidToc, err)
	}
	tagBytes, err := r.bytesN()
	if err != nil {
		return nil, fmt.Errorf("%w: sketch tags: %v", ErrInvalidToc, err)
	}

	content := hyperloglog.New()
	if err := content.UnmarshalBinary(contentBytes); err != nil {
		return nil, fmt.Errorf("%w: unmarshal content sketch: %v", ErrInvalidToc, err)
	}
	tags := hyperloglog.New()
	if err := tags.UnmarshalBinary(tagBytes); err != nil {
		return nil, fmt.Errorf("%w: unmarshal tag sketch: %v", ErrInvalidToc, err)
	}

	return &sketchTrack{content: content, tags: tags}, nil
}
