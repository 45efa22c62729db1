package vault

import "fmt"

// Commit engine. Each put has already logged its frame to the WAL; Commit
// then writes the track segments, the TOC and the footer, fsyncs once,
// and only after that rewrites the header and advances the WAL
// checkpoint. A crash before that fsync leaves the previous generation's
// footer authoritative; a crash after it but before the header rewrite
// leaves the header pointing at the previous footer while a newer, valid
// one already exists further down the file, which the next open adopts
// because it locates footers by the backward scan findLastValidFooter
// performs, not by the header's pointer.
func (v *Vault) Commit() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.commitLocked()
}

// commitLocked is Commit's body, factored out so callers that already
// hold v.mu (PutBulk's optional AutoCommit) can fold a commit into the
// same critical section instead of deadlocking on a re-entrant lock.
func (v *Vault) commitLocked() error {
	if v.readOnly {
		return ErrRequiresOpen
	}
	if v.state == stateSealed {
		return ErrRequiresSealed
	}
	if !v.dirty {
		return nil
	}

	toc := fileTOC{frames: v.frames}

	if v.opts.EnableLex && len(v.lex.postings) > 0 {
		seg := encodeLexSegment(v.lex)
		offset, err := appendDataRegion(v.fh, &v.dataCursor, seg)
		if err != nil {
			return fmt.Errorf("write lex segment: %w", err)
		}
		toc.tracks.lex = &lexManifest{segments: []segmentDescriptor{{
			path: "lex/0", offset: offset, length: uint64(len(seg)), checksum: blake3Sum(seg), dimension: -1,
		}}}
	}

	if v.opts.EnableVec && len(v.vec.entries) > 0 {
		v.vec.finalize()
		seg := encodeVecSegment(v.vec)
		offset, err := appendDataRegion(v.fh, &v.dataCursor, seg)
		if err != nil {
			return fmt.Errorf("write vec segment: %w", err)
		}
		toc.tracks.vec = &vecManifest{
			segment:   segmentDescriptor{path: "vec/0", offset: offset, length: uint64(len(seg)), checksum: blake3Sum(seg), dimension: int32(v.vec.dimension)},
			dimension: v.vec.dimension, count: len(v.vec.entries), algorithm: v.vec.algorithm,
		}
	}

	if v.opts.EnableClip && len(v.clip.entries) > 0 {
		v.clip.finalize()
		seg := encodeVecSegment(v.clip)
		offset, err := appendDataRegion(v.fh, &v.dataCursor, seg)
		if err != nil {
			return fmt.Errorf("write clip segment: %w", err)
		}
		toc.tracks.clip = &vecManifest{
			segment:   segmentDescriptor{path: "clip/0", offset: offset, length: uint64(len(seg)), checksum: blake3Sum(seg), dimension: int32(v.clip.dimension)},
			dimension: v.clip.dimension, count: len(v.clip.entries), algorithm: v.clip.algorithm,
		}
	}

	if len(v.timeEntries) > 0 {
		encoded, checksum := encodeTimeIndex(v.timeEntries)
		sorted, err := decodeTimeIndex(encoded) // re-parse canonical bytes so in-memory order matches what's on disk
		if err != nil {
			return fmt.Errorf("re-validate time index: %w", err)
		}
		v.timeEntries = sorted
		offset, err := appendDataRegion(v.fh, &v.dataCursor, encoded)
		if err != nil {
			return fmt.Errorf("write time index: %w", err)
		}
		toc.tracks.time = &segmentDescriptor{path: "time/0", offset: offset, length: uint64(len(encoded)), checksum: checksum, dimension: -1}
	}

	if v.opts.EnableTemporal && (len(v.mentions) > 0 || len(v.anchors) > 0) {
		tm := &temporalManifest{}
		if len(v.mentions) > 0 {
			seg := encodeMentions(v.mentions)
			offset, err := appendDataRegion(v.fh, &v.dataCursor, seg)
			if err != nil {
				return fmt.Errorf("write temporal mentions: %w", err)
			}
			tm.mentions = &segmentDescriptor{path: "temporal/mentions", offset: offset, length: uint64(len(seg)), checksum: blake3Sum(seg), dimension: -1}
		}
		if len(v.anchors) > 0 {
			seg := encodeAnchors(v.anchors)
			offset, err := appendDataRegion(v.fh, &v.dataCursor, seg)
			if err != nil {
				return fmt.Errorf("write temporal anchors: %w", err)
			}
			tm.anchors = &segmentDescriptor{path: "temporal/anchors", offset: offset, length: uint64(len(seg)), checksum: blake3Sum(seg), dimension: -1}
		}
		toc.tracks.temporal = tm
	}

	if v.opts.EnableMesh && v.mesh != nil && len(v.mesh.nodes) > 0 {
		toc.mesh = v.mesh
	}

	if v.opts.EnableSketch {
		seg, err := encodeSketchSegment(v.sketch)
		if err != nil {
			return fmt.Errorf("encode sketch segment: %w", err)
		}
		offset, err := appendDataRegion(v.fh, &v.dataCursor, seg)
		if err != nil {
			return fmt.Errorf("write sketch segment: %w", err)
		}
		toc.tracks.sketch = &segmentDescriptor{path: "sketch/0", offset: offset, length: uint64(len(seg)), checksum: blake3Sum(seg), dimension: -1}
	}

	toc.segments = buildSegmentCatalog(toc.tracks)

	tocBytes := encodeTOC(toc)
	hash := blake3Sum(tocBytes)
	generation := v.lastGeneration + 1
	footer := commitFooter{tocLen: uint64(len(tocBytes)), tocHash: hash, generation: generation}

	if _, err := appendDataRegion(v.fh, &v.dataCursor, tocBytes); err != nil {
		return fmt.Errorf("write toc: %w", err)
	}
	footerOffset := v.dataCursor
	if _, err := appendDataRegion(v.fh, &v.dataCursor, footer.encode()); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	if err := v.fh.Sync(); err != nil {
		return fmt.Errorf("sync commit: %w", err)
	}

	v.hdr.footerOffset = footerOffset
	v.hdr.tocChecksum = hash
	v.hdr.walCheckpoint = v.wal.sequence
	v.hdr.walSequence = v.wal.sequence
	if err := v.writeHeader(); err != nil {
		return fmt.Errorf("update header after commit: %w", err)
	}

	if err := v.checkpointWal(); err != nil {
		return fmt.Errorf("checkpoint wal after commit: %w", err)
	}

	v.lastGeneration = generation
	v.dirty = false

	v.logger.Info().Uint64("generation", generation).Int("frames", len(v.frames)).Msg("committed")

	return nil
}

// buildSegmentCatalog flattens every track manifest's segment descriptors
// into the flat list doctor/verify iterate over.
func buildSegmentCatalog(t trackManifests) []segmentDescriptor {
	var out []segmentDescriptor
	if t.time != nil {
		out = append(out, *t.time)
	}
	if t.lex != nil {
		out = append(out, t.lex.segments...)
	}
	if t.vec != nil {
		out = append(out, t.vec.segment)
	}
	if t.clip != nil {
		out = append(out, t.clip.segment)
	}
	if t.temporal != nil {
		if t.temporal.mentions != nil {
			out = append(out, *t.temporal.mentions)
		}
		if t.temporal.anchors != nil {
			out = append(out, *t.temporal.anchors)
		}
	}
	if t.sketch != nil {
		out = append(out, *t.sketch)
	}
	return out
}
