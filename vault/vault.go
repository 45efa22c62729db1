// Package vault implements the MV2 embeddable memory store: a single-file
// (.mv2) append-only vault of content-addressed frames plus collateral
// time/lexical/vector/CLIP/temporal/entity-graph indexes. This file is the
// public surface (create/open/put/commit/seal/close/stats) built on the
// header/wal/footer/toc codecs and
// track subsystems in the sibling files.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sunilkgrao/mv2vault/internal/lockreg"
	"github.com/sunilkgrao/mv2vault/pkg/fs"
)

// vaultState is the handle's position in the Absent -> Open -> Sealed
// lifecycle.
type vaultState uint8

const (
	stateOpen vaultState = iota
	stateSealed
)

// Vault is a handle to an open .mv2 file. A Vault obtained from Create or
// Open holds the exclusive lock and may mutate; one obtained from
// OpenReadOnly holds a shared lock and may only query.
type Vault struct {
	mu sync.Mutex

	fsys   fs.FS
	locker *fs.Locker
	path   string
	fh     fs.File

	opts     Options
	readOnly bool
	state    vaultState

	hdr        header
	wal        *walRing
	dataCursor uint64 // next append offset in the data region

	frames []frame
	dirty  bool // true if in-memory state differs from the last committed generation

	lex         *lexIndex
	vec         *vecTrack
	clip        *vecTrack
	timeEntries []timeIndexEntry
	mentions    []temporalMention
	anchors     []temporalAnchor
	mesh        *meshPayload
	sketch      *sketchTrack

	lockGuard *lockreg.Guard

	lastGeneration uint64

	logger zerolog.Logger
}

// Stats summarizes a vault's current contents.
type Stats struct {
	FrameCount      int
	Generation      uint64
	Bytes           int64
	HasLexIndex     bool
	HasVecIndex     bool
	HasClipIndex    bool
	HasTemporal     bool
	HasMesh         bool
	HasSketch       bool
	DistinctContent uint64
	DistinctTags    uint64
}

// Create initializes a brand-new .mv2 file at path and returns an open,
// exclusively-locked handle. It fails if path already exists.
func Create(path string, opts Options) (*Vault, error) {
	fsys := fs.NewReal()
	return createWithFS(path, opts, fsys, fs.NewLocker(fsys))
}

// createWithFS is Create's body with the filesystem/locker injected, so
// crash/fault-injection tests (internal/fstest) can drive vault creation
// through pkg/fs.Chaos or pkg/fs.Crash instead of the real filesystem.
func createWithFS(path string, opts Options, fsys fs.FS, locker *fs.Locker) (*Vault, error) {
	merged, err := loadOptions(path, opts)
	if err != nil {
		return nil, err
	}

	if exists, err := fsys.Stat(path); err == nil && exists != nil {
		return nil, fmt.Errorf("create %s: %w", path, os.ErrExist)
	}

	fh, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	v := &Vault{
		fsys: fsys, locker: locker, path: path, fh: fh,
		opts: merged, logger: merged.logger(),
		mesh: &meshPayload{}, sketch: newSketchTrack(), lex: newLexIndex(), vec: newVecTrack(), clip: newClipTrack(),
	}

	guard, err := v.acquireLock(lockreg.Exclusive)
	if err != nil {
		_ = fh.Close()
		_ = fsys.Remove(path)
		return nil, err
	}
	v.lockGuard = guard

	walSize := walSizeForFileSize(merged.EstimatedBytes)
	v.hdr = newHeader(walSize)
	v.wal = newWalRing(v.hdr.walOffset, v.hdr.walSize)
	v.dataCursor = v.hdr.footerOffset

	emptyTOC := encodeTOC(fileTOC{mesh: v.mesh})
	hash := blake3Sum(emptyTOC)
	v.hdr.tocChecksum = hash

	footer := commitFooter{tocLen: uint64(len(emptyTOC)), tocHash: hash, generation: 0}
	v.lastGeneration = 0

	if err := v.writeHeader(); err != nil {
		v.closeAbandoned()
		return nil, err
	}
	if _, err := appendDataRegion(v.fh, &v.dataCursor, emptyTOC); err != nil {
		v.closeAbandoned()
		return nil, err
	}
	if _, err := appendDataRegion(v.fh, &v.dataCursor, footer.encode()); err != nil {
		v.closeAbandoned()
		return nil, err
	}
	if err := v.fh.Sync(); err != nil {
		v.closeAbandoned()
		return nil, fmt.Errorf("sync new vault: %w", err)
	}
	// The file's own fsync does not persist its directory entry; a crash
	// here would lose the whole file, not just its tail.
	if err := syncDir(fsys, filepath.Dir(path)); err != nil {
		v.closeAbandoned()
		return nil, fmt.Errorf("sync vault directory: %w", err)
	}

	v.logger.Debug().Str("path", path).Msg("vault created")

	return v, nil
}

// syncDir fsyncs a directory so entries created inside it survive a crash.
func syncDir(fsys fs.FS, dir string) error {
	dh, err := fsys.Open(dir)
	if err != nil {
		return err
	}
	if err := dh.Sync(); err != nil {
		_ = dh.Close()
		return err
	}
	return dh.Close()
}

// Open opens an existing .mv2 file for mutation, acquiring the exclusive
// lock and replaying any pending WAL records left by a crash between a Put
// and the Commit that would have folded them into the TOC.
func Open(path string, opts Options) (*Vault, error) {
	fsys := fs.NewReal()
	return openVaultWithFS(path, opts, false, fsys, fs.NewLocker(fsys))
}

// OpenReadOnly opens an existing .mv2 file for queries only, acquiring a
// shared lock. It never replays pending WAL records: readers always see
// exactly the last committed generation.
func OpenReadOnly(path string, opts Options) (*Vault, error) {
	fsys := fs.NewReal()
	return openVaultWithFS(path, opts, true, fsys, fs.NewLocker(fsys))
}

// openVaultWithFS is openVault's body with the filesystem/locker injected;
// see createWithFS.
func openVaultWithFS(path string, opts Options, readOnly bool, fsys fs.FS, locker *fs.Locker) (*Vault, error) {
	merged, err := loadOptions(path, opts)
	if err != nil {
		return nil, err
	}

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	fh, err := fsys.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	v := &Vault{
		fsys: fsys, locker: locker, path: path, fh: fh, readOnly: readOnly,
		opts: merged, logger: merged.logger(),
	}

	mode := lockreg.Exclusive
	if readOnly {
		mode = lockreg.Shared
	}
	guard, err := v.acquireLock(mode)
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	v.lockGuard = guard

	if err := v.loadFromDisk(readOnly); err != nil {
		v.closeAbandoned()
		return nil, err
	}

	return v, nil
}

func (v *Vault) acquireLock(mode lockreg.Mode) (*lockreg.Guard, error) {
	root := v.opts.RegistryRoot
	if root == "" {
		resolved, err := lockreg.RegistryRoot("")
		if err != nil {
			return nil, fmt.Errorf("resolve lock registry root: %w", err)
		}
		root = resolved
	}

	fileID, err := lockreg.FileID(v.fsys, v.path)
	if err != nil {
		return nil, fmt.Errorf("derive file id: %w", err)
	}

	guard, err := lockreg.Acquire(v.fsys, v.locker, v.path, fileID, root, mode, v.opts.ForceStaleLock, v.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	return guard, nil
}

// loadFromDisk reads the header, scans for the last valid commit footer
// (attempting structural recovery if none is found), decodes
// the TOC, and rebuilds the in-memory track state. For an exclusive open it
// also replays any pending WAL records.
func (v *Vault) loadFromDisk(readOnly bool) error {
	hdrBuf := make([]byte, headerSize)
	if _, err := v.fh.Seek(0, 0); err != nil {
		return fmt.Errorf("seek header: %w", err)
	}
	if _, err := readFull(v.fh, hdrBuf); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	hdr, zeroed, err := decodeHeader(hdrBuf)
	if err != nil {
		return err
	}
	v.hdr = hdr

	if zeroed && !readOnly {
		if err := v.writeHeader(); err != nil {
			return fmt.Errorf("scrub legacy header metadata: %w", err)
		}
	}

	info, err := v.fh.Stat()
	if err != nil {
		return fmt.Errorf("stat vault: %w", err)
	}
	size := info.Size()

	scanStart := int64(v.hdr.walOffset + v.hdr.walSize)
	if scanStart > size {
		return &InvalidTocError{Reason: "file shorter than header's wal region"}
	}

	region, err := readDataRegion(v.fh, uint64(scanStart), uint64(size-scanStart))
	if err != nil {
		return fmt.Errorf("read footer scan region: %w", err)
	}

	foundFooter, footerOffset, tocOffset, ok := findLastValidFooter(region, scanStart)
	healed := false
	if !ok {
		// A read-only handle has no way to seal a healed generation back to
		// disk, so it must not silently serve a structurally-recovered view:
		// only the exclusive opener attempts recovery.
		if readOnly {
			return &InvalidTocError{Reason: "no valid commit footer"}
		}

		recovered, rFooter, rFooterOffset, rTocOffset, rErr := v.tryRecoverFooter(region, scanStart)
		if rErr != nil {
			return rErr
		}
		foundFooter, footerOffset, tocOffset = rFooter, rFooterOffset, rTocOffset
		healed = recovered
		if !recovered {
			return &InvalidTocError{Reason: "no valid commit footer"}
		}
	}

	tocBuf, err := readDataRegion(v.fh, uint64(tocOffset), foundFooter.tocLen)
	if err != nil {
		return fmt.Errorf("read toc: %w", err)
	}
	toc, err := decodeTOC(tocBuf)
	if err != nil {
		return err
	}

	if err := v.adoptTOC(toc); err != nil {
		return err
	}

	v.hdr.footerOffset = uint64(footerOffset)
	v.dataCursor = uint64(footerOffset) + footerSize
	v.lastGeneration = foundFooter.generation
	v.wal = newWalRing(v.hdr.walOffset, v.hdr.walSize)
	v.wal.sequence = v.hdr.walSequence
	v.wal.checkpointSeq = v.hdr.walCheckpoint

	if healed {
		v.hdr.tocChecksum = blake3Sum(tocBuf)
		v.dirty = true
		v.logger.Warn().Str("path", v.path).Msg("recovered commit footer with damaged trailer")
		if !readOnly {
			if err := v.Commit(); err != nil {
				return fmt.Errorf("seal recovered generation: %w", err)
			}
		}
	}

	if !readOnly {
		if err := v.replayWal(); err != nil {
			return err
		}
	}

	return nil
}

// tryRecoverFooter looks for a structurally well-formed footer whose
// stored toc_hash no longer matches (its trailer bytes were damaged) but
// whose preceding TOC bytes still decode cleanly. This is the Open-time
// analogue of doctor's HealTocChecksum action.
func (v *Vault) tryRecoverFooter(region []byte, scanStart int64) (bool, commitFooter, int64, int64, error) {
	f, footerOffset, tocOffset, ok := findLastStructuralFooter(region, scanStart)
	if !ok {
		if len(region) == 0 {
			return false, commitFooter{}, 0, 0, &InvalidTocError{Reason: "empty vault with no footer"}
		}
		return false, commitFooter{}, 0, 0, nil
	}

	tocBuf, err := readDataRegion(v.fh, uint64(tocOffset), f.tocLen)
	if err != nil {
		return false, commitFooter{}, 0, 0, nil
	}
	if _, err := decodeTOC(tocBuf); err != nil {
		return false, commitFooter{}, 0, 0, nil
	}

	return true, f, footerOffset, tocOffset, nil
}

// adoptTOC replaces the vault's in-memory state with the decoded TOC's
// frames and rebuilt track objects.
func (v *Vault) adoptTOC(toc fileTOC) error {
	v.frames = toc.frames

	v.lex = newLexIndex()
	if toc.tracks.lex != nil {
		for _, seg := range toc.tracks.lex.segments {
			buf, err := readDataRegion(v.fh, seg.offset, seg.length)
			if err != nil {
				return fmt.Errorf("read lex segment: %w", err)
			}
			postings, err := decodeLexSegment(buf)
			if err != nil {
				return err
			}
			for term, ps := range postings {
				v.lex.postings[term] = append(v.lex.postings[term], ps...)
			}
		}
	}

	loadVec := func(m *vecManifest) (*vecTrack, error) {
		if m == nil {
			return newVecTrack(), nil
		}
		buf, err := readDataRegion(v.fh, m.segment.offset, m.segment.length)
		if err != nil {
			return nil, fmt.Errorf("read vec segment: %w", err)
		}
		return decodeVecSegment(buf, m.algorithm)
	}
	vecTrk, err := loadVec(toc.tracks.vec)
	if err != nil {
		return err
	}
	v.vec = vecTrk
	clipTrk, err := loadVec(toc.tracks.clip)
	if err != nil {
		return err
	}
	if clipTrk.dimension == -1 {
		clipTrk.dimension = clipDimension
	}
	v.clip = clipTrk

	v.timeEntries = nil
	if toc.tracks.time != nil {
		buf, err := readDataRegion(v.fh, toc.tracks.time.offset, toc.tracks.time.length)
		if err != nil {
			return fmt.Errorf("read time index: %w", err)
		}
		entries, err := decodeTimeIndex(buf)
		if err != nil {
			return err
		}
		v.timeEntries = entries
	}

	v.mentions, v.anchors = nil, nil
	if toc.tracks.temporal != nil {
		if toc.tracks.temporal.mentions != nil {
			buf, err := readDataRegion(v.fh, toc.tracks.temporal.mentions.offset, toc.tracks.temporal.mentions.length)
			if err != nil {
				return fmt.Errorf("read temporal mentions: %w", err)
			}
			v.mentions, err = decodeMentions(buf)
			if err != nil {
				return err
			}
		}
		if toc.tracks.temporal.anchors != nil {
			buf, err := readDataRegion(v.fh, toc.tracks.temporal.anchors.offset, toc.tracks.temporal.anchors.length)
			if err != nil {
				return fmt.Errorf("read temporal anchors: %w", err)
			}
			v.anchors, err = decodeAnchors(buf)
			if err != nil {
				return err
			}
		}
	}

	if toc.mesh != nil {
		v.mesh = toc.mesh
	} else {
		v.mesh = &meshPayload{}
	}

	v.sketch = newSketchTrack()
	if toc.tracks.sketch != nil {
		buf, err := readDataRegion(v.fh, toc.tracks.sketch.offset, toc.tracks.sketch.length)
		if err != nil {
			return fmt.Errorf("read sketch segment: %w", err)
		}
		s, err := decodeSketchSegment(buf)
		if err != nil {
			return err
		}
		v.sketch = s
	}

	return nil
}

// replayWal applies any records with sequence greater than the header's
// checkpoint position. Every record
// carries the data it needs to re-derive its TOC entry, so replay is
// idempotent: re-applying an already-folded record is never possible
// because afterSeq excludes folded sequences.
func (v *Vault) replayWal() error {
	region, err := readDataRegion(v.fh, v.hdr.walOffset, v.hdr.walSize)
	if err != nil {
		return fmt.Errorf("read wal region: %w", err)
	}

	records, err := decodeWalRegion(region, v.hdr.walCheckpoint)
	if err != nil {
		var corrupt *WalCorruptionError
		if v.readOnly {
			return err
		}
		if ok := asWalCorruption(err, &corrupt); !ok {
			return err
		}
		v.logger.Warn().Int64("offset", corrupt.Offset).Msg("wal corruption during replay; stopping at last good record")
	}

	if len(records) == 0 {
		return nil
	}

	v.logger.Info().Int("count", len(records)).Msg("replaying pending wal records")

	for _, rec := range records {
		if err := v.applyWalRecord(rec); err != nil {
			return fmt.Errorf("apply wal record seq=%d: %w", rec.seq, err)
		}
		if rec.seq > v.wal.sequence {
			v.wal.sequence = rec.seq
		}
	}
	v.dirty = true

	return nil
}

func asWalCorruption(err error, target **WalCorruptionError) bool {
	we, ok := err.(*WalCorruptionError) //nolint:errorlint // decodeWalRegion returns this concrete type directly
	if !ok {
		return false
	}
	*target = we
	return true
}

// applyWalRecord folds one replayed record into in-memory state. Frame-put
// records carry a fully-encoded frame (via the tocWriter/tocReader frame
// codec); the bytes they reference in the data region were already
// durably written by the original Put before the WAL record was appended.
func (v *Vault) applyWalRecord(rec walRecord) error {
	switch rec.kind {
	case walKindFramePut:
		r := &tocReader{buf: rec.payload}
		f, err := r.frame()
		if err != nil {
			return fmt.Errorf("decode replayed frame: %w", err)
		}
		v.frames = append(v.frames, f)
		v.indexFrameForSearch(f)
		return nil
	case walKindStatusFlip:
		r := &tocReader{buf: rec.payload}
		id, err := r.u64()
		if err != nil {
			return err
		}
		status, err := r.u8()
		if err != nil {
			return err
		}
		v.setFrameStatus(FrameID(id), FrameStatus(status))
		return nil
	default:
		return fmt.Errorf("%w: unknown wal record kind %d", ErrWalCorruption, rec.kind)
	}
}

func (v *Vault) setFrameStatus(id FrameID, status FrameStatus) {
	for i := range v.frames {
		if v.frames[i].id == id {
			v.frames[i].status = status
			return
		}
	}
}

// indexFrameForSearch adds a replayed frame's entry to the time index.
// Only WAL replay calls it (PutBytes appends its time entry directly);
// replayed frames are not added to the lex index.
func (v *Vault) indexFrameForSearch(f frame) {
	if v.timeEntries == nil {
		v.timeEntries = []timeIndexEntry{}
	}
	v.timeEntries = append(v.timeEntries, timeIndexEntry{ts: f.ts.UTC().UnixNano(), frameID: f.id})
}

// writeHeader encodes and flushes the full 4 KiB header in place.
func (v *Vault) writeHeader() error {
	buf, err := v.hdr.encode()
	if err != nil {
		return err
	}
	if _, err := v.fh.Seek(0, 0); err != nil {
		return fmt.Errorf("seek header: %w", err)
	}
	if _, err := v.fh.Write(buf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := v.fh.Sync(); err != nil {
		return fmt.Errorf("sync header: %w", err)
	}
	return nil
}

// Seal forbids further mutation on this handle. It does not write
// anything to disk: sealing
// is a logical, in-process state marker, not a durable file property.
func (v *Vault) Seal() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.readOnly {
		return ErrRequiresOpen
	}
	v.state = stateSealed
	v.logger.Debug().Str("path", v.path).Msg("vault sealed")
	return nil
}

// Close releases the vault's locks (sidecar registry record, OS advisory
// lock) and closes the file handle. It does not commit pending changes.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closeLocked()
}

func (v *Vault) closeLocked() error {
	var lockErr, fileErr error
	if v.lockGuard != nil {
		lockErr = v.lockGuard.Close()
		v.lockGuard = nil
	}
	if v.fh != nil {
		fileErr = v.fh.Close()
		v.fh = nil
	}
	if lockErr != nil {
		return lockErr
	}
	return fileErr
}

// closeAbandoned releases resources on a failed Create/Open before
// returning an error to the caller; it intentionally ignores secondary
// errors from the cleanup itself.
func (v *Vault) closeAbandoned() {
	_ = v.closeLocked()
}

// Stats reports the vault's current (possibly uncommitted) contents.
func (v *Vault) Stats() (Stats, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	info, err := v.fh.Stat()
	if err != nil {
		return Stats{}, fmt.Errorf("stat vault: %w", err)
	}

	s := Stats{
		FrameCount:   countActiveFrames(v.frames),
		Generation:   v.lastGeneration,
		Bytes:        info.Size(),
		HasLexIndex:  v.opts.EnableLex && len(v.lex.postings) > 0,
		HasVecIndex:  v.opts.EnableVec && len(v.vec.entries) > 0,
		HasClipIndex: v.opts.EnableClip && len(v.clip.entries) > 0,
		HasTemporal:  v.opts.EnableTemporal && (len(v.mentions) > 0 || len(v.anchors) > 0),
		HasMesh:      v.opts.EnableMesh && len(v.mesh.nodes) > 0,
		HasSketch:    v.opts.EnableSketch,
	}
	if v.opts.EnableSketch {
		s.DistinctContent = v.sketch.distinctContent()
		s.DistinctTags = v.sketch.distinctTags()
	}
	return s, nil
}

func countActiveFrames(frames []frame) int {
	n := 0
	for _, f := range frames {
		if f.status == FrameActive {
			n++
		}
	}
	return n
}

// PutBytes appends payload as a new frame. It requires an exclusive,
// unsealed handle. The frame is durably written to the
// data region and logged to the WAL before PutBytes returns; it becomes
// part of a queryable committed generation only after the next Commit.
func (v *Vault) PutBytes(payload []byte, opts PutOptions) (FrameID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.readOnly {
		return 0, ErrRequiresOpen
	}
	if v.state == stateSealed {
		return 0, ErrRequiresSealed
	}

	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}

	encoded, err := encodeContent(payload, opts.Encoding)
	if err != nil {
		return 0, err
	}

	if v.opts.Ticket != nil {
		if err := v.checkTicket(int64(len(encoded))); err != nil {
			return 0, err
		}
	}

	// Validate vector/clip dimensions before any state mutation below: a
	// rejected insert must leave the frame list, data region cursor, and
	// WAL untouched.
	if v.opts.EnableVec && opts.Vector != nil {
		if err := v.vec.checkDimension(opts.Vector); err != nil {
			return 0, err
		}
	}
	if v.opts.EnableClip && opts.Clip != nil {
		if err := v.clip.checkClipDimension(opts.Clip); err != nil {
			return 0, err
		}
	}

	id := FrameID(len(v.frames))
	offset, err := appendDataRegion(v.fh, &v.dataCursor, encoded)
	if err != nil {
		return 0, err
	}

	f := frame{
		id: id, status: FrameActive, role: opts.Role, ts: opts.Timestamp.UTC(),
		uri: opts.URI, title: opts.Title, track: opts.Track, tags: opts.Tags,
		labels: opts.Labels, metadata: opts.Metadata,
		contentOffset: offset, contentLength: uint64(len(encoded)), contentEncoding: opts.Encoding,
		parentID: opts.ParentID,
	}
	if f.metadata == nil && opts.VectorModel != "" {
		f.metadata = map[string]string{}
	}
	if opts.VectorModel != "" {
		f.metadata["vector_model"] = opts.VectorModel
	}

	if err := v.logFramePut(f); err != nil {
		return 0, err
	}

	v.frames = append(v.frames, f)
	v.timeEntries = append(v.timeEntries, timeIndexEntry{ts: f.ts.UnixNano(), frameID: f.id})
	v.sketch.observeFrame(blake3Sum(payload), f.tags)

	if v.opts.EnableLex {
		v.lex.addDoc(f.id, decodeTextBestEffort(payload))
	}
	if v.opts.EnableVec && opts.Vector != nil {
		if err := v.vec.add(f.id, opts.Vector); err != nil {
			return 0, err
		}
	}
	if v.opts.EnableClip && opts.Clip != nil {
		if err := v.clip.addClip(f.id, opts.Clip); err != nil {
			return 0, err
		}
	}
	if v.opts.EnableMesh && len(opts.Entities) > 0 {
		v.applyEntities(f.id, opts.Entities)
	}
	if v.opts.EnableTemporal {
		v.applyTemporal(f.id, opts.TemporalMentions, opts.TemporalAnchor)
	}

	v.dirty = true
	v.logger.Debug().Uint64("frame_id", uint64(f.id)).Str("uri", f.uri).Msg("frame put")

	return f.id, nil
}

// decodeTextBestEffort treats payload as UTF-8 text for tokenization
// purposes. Binary payloads simply tokenize to nothing useful, which is
// harmless: the lex track only ever returns hits for terms it actually
// saw.
func decodeTextBestEffort(payload []byte) string {
	return string(payload)
}

// logFramePut appends a WAL record for f, checkpointing the ring first if
// needsCheckpoint reports it due, and growing the ring to the next tier
// only when the record still does not fit.
func (v *Vault) logFramePut(f frame) error {
	w := &tocWriter{}
	w.frame(f)

	if v.wal.needsCheckpoint() {
		if err := v.checkpointWal(); err != nil {
			return err
		}
	}

	buf, fileOffset, ok := v.wal.append(walKindFramePut, w.buf)
	if !ok {
		if err := v.growWal(); err != nil {
			return err
		}
		buf, fileOffset, ok = v.wal.append(walKindFramePut, w.buf)
		if !ok {
			return fmt.Errorf("%w: record does not fit even after growth", ErrCapacityExceeded)
		}
	}

	if _, err := v.fh.Seek(int64(fileOffset), 0); err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}
	if _, err := v.fh.Write(buf); err != nil {
		return fmt.Errorf("write wal record: %w", err)
	}
	if err := v.fh.Sync(); err != nil {
		return fmt.Errorf("sync wal record: %w", err)
	}

	v.hdr.walSequence = v.wal.sequence
	return nil
}

// checkpointWal marks all currently-assigned records folded (the next
// Commit will make that literally true) and zeroes the ring's head so a
// subsequent replay after a crash doesn't mistake stale bytes for a live
// record.
func (v *Vault) checkpointWal() error {
	v.wal.checkpoint()
	zero := make([]byte, v.wal.size)
	if _, err := v.fh.Seek(int64(v.wal.offset), 0); err != nil {
		return &CheckpointFailedError{Reason: err.Error()}
	}
	if _, err := v.fh.Write(zero); err != nil {
		return &CheckpointFailedError{Reason: err.Error()}
	}
	v.hdr.walCheckpoint = v.wal.checkpointSeq
	return v.writeHeader()
}

// growWal moves the WAL to the next size tier, shifting the data region
// (and every existing frame/track offset) forward by the size delta.
func (v *Vault) growWal() error {
	newSize := nextWalTier(v.wal.size)
	if newSize <= v.wal.size {
		return fmt.Errorf("%w: wal already at largest tier", ErrCapacityExceeded)
	}
	delta := newSize - v.wal.size

	if err := v.shiftDataRegion(delta); err != nil {
		return err
	}

	v.wal.size = newSize
	v.hdr.walSize = newSize
	v.hdr.footerOffset += delta
	return v.writeHeader()
}

// shiftDataRegion physically moves every byte from the old data-region
// start to the current end-of-file forward by delta, to make room for a
// grown WAL ring. This is the only operation that relocates already
// written bytes; it happens atomically from the caller's perspective
// because it runs entirely under the vault's own mutex with no commit in
// flight.
func (v *Vault) shiftDataRegion(delta uint64) error {
	oldStart := v.hdr.walOffset + v.hdr.walSize
	length := v.dataCursor - oldStart

	buf, err := readDataRegion(v.fh, oldStart, length)
	if err != nil {
		return fmt.Errorf("read data region for wal growth: %w", err)
	}
	if _, err := v.fh.Seek(int64(oldStart+delta), 0); err != nil {
		return fmt.Errorf("seek shifted data region: %w", err)
	}
	if _, err := v.fh.Write(buf); err != nil {
		return fmt.Errorf("write shifted data region: %w", err)
	}
	if err := v.fh.Sync(); err != nil {
		return fmt.Errorf("sync shifted data region: %w", err)
	}

	for i := range v.frames {
		v.frames[i].contentOffset += delta
	}
	v.dataCursor += delta

	return nil
}

func nextWalTier(current uint64) uint64 {
	const (
		kib = 1 << 10
		mib = 1 << 20
	)
	tiers := []uint64{64 * kib, 1 * mib, 4 * mib, 16 * mib, 64 * mib}
	for _, t := range tiers {
		if t > current {
			return t
		}
	}
	return current
}

func readFull(fh fs.File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := fh.Read(buf[n:])
		if m > 0 {
			n += m
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// applyEntities upserts EntityMentions into the logic-mesh: nodes
// deduped by (name lowercased, kind), edges deduped by (from, to, type).
func (v *Vault) applyEntities(frameID FrameID, entities []EntityMention) {
	if v.mesh == nil {
		v.mesh = &meshPayload{}
	}
	indices := make([]int, len(entities))
	for i, e := range entities {
		indices[i] = upsertMeshNode(v.mesh, e.Name, e.Kind, e.DisplayName, e.Confidence, frameID)
	}
	for i, e := range entities {
		for _, link := range e.RelatedTo {
			if link.ToIndex < 0 || link.ToIndex >= len(entities) {
				continue
			}
			upsertMeshEdge(v.mesh, indices[i], indices[link.ToIndex], link.LinkType)
		}
	}
}

// applyTemporal folds recognized mentions and an optional anchor into the
// temporal track.
func (v *Vault) applyTemporal(frameID FrameID, mentions []TemporalMentionInput, anchor *TemporalAnchorInput) {
	for _, m := range mentions {
		v.mentions = append(v.mentions, temporalMention{
			tsUTC: m.TsUTC.UTC().UnixNano(), frameID: frameID, byteStart: m.ByteStart, byteLen: m.ByteLen,
			kind: m.Kind, confidence: m.Confidence, tzHint: m.TzHint,
		})
	}
	if anchor != nil {
		v.anchors = append(v.anchors, temporalAnchor{frameID: frameID, anchorTS: anchor.AnchorTS.UTC().UnixNano(), source: anchor.Source})
	}
}

// SearchLex ranks frames by summed query-term frequency over the lexical
// track. Requires EnableLex.
func (v *Vault) SearchLex(query string, topK int) ([]LexHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.opts.EnableLex {
		return nil, ErrLexNotEnabled
	}
	return searchLexPostings(v.lex.postings, query, topK), nil
}

// SearchVec ranks frames by L2 distance over the named vector track
// ("vec" or "clip"). Requires the corresponding track to be enabled.
func (v *Vault) SearchVec(track string, query []float32, topK int) ([]VecHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch track {
	case "vec":
		if !v.opts.EnableVec {
			return nil, ErrVecNotEnabled
		}
		return v.vec.search(query, topK)
	case "clip":
		if !v.opts.EnableClip {
			return nil, ErrClipNotEnabled
		}
		return v.clip.search(query, topK)
	default:
		return nil, fmt.Errorf("%w: unknown vector track %q", ErrInvalidQuery, track)
	}
}

// frameByID returns a frame by id, or FrameNotFound.
func (v *Vault) frameByID(id FrameID) (frame, error) {
	idx := sort.Search(len(v.frames), func(i int) bool { return v.frames[i].id >= id })
	if idx < len(v.frames) && v.frames[idx].id == id {
		return v.frames[idx], nil
	}
	return frame{}, fmt.Errorf("frame %d: %w", id, ErrFrameNotFound)
}

// CheckpointFailedError reports a failure zeroing/flushing the WAL ring
// during a checkpoint.
type CheckpointFailedError struct{ Reason string }

func (e *CheckpointFailedError) Error() string {
	if e.Reason == "" {
		return "wal checkpoint failed"
	}
	return fmt.Sprintf("wal checkpoint failed: %s", e.Reason)
}
func (e *CheckpointFailedError) Unwrap() error { return ErrCheckpointFailed }
