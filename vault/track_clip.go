package vault

import "fmt"

// CLIP visual index track. Same on-disk shape and search code as the
// generic vector track (track_vec.go); the only difference is a fixed
// dimension. The CLIP model itself is an external collaborator; callers
// supply the 512-d embedding, this only indexes and searches it.
const clipDimension = 512

func newClipTrack() *vecTrack {
	t := newVecTrack()
	t.dimension = clipDimension
	return t
}

func (t *vecTrack) checkClipDimension(vec []float32) error {
	if len(vec) != clipDimension {
		return fmt.Errorf("%w: clip vectors must be %d-dimensional", ErrVecDimensionMismatch, clipDimension)
	}
	return nil
}

func (t *vecTrack) addClip(id FrameID, vec []float32) error {
	if err := t.checkClipDimension(vec); err != nil {
		return err
	}
	return t.add(id, vec)
}
