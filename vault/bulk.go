package vault

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Bulk indexing: a planner/worker pool for ingesting many frames at once.
// The planner fans work out to a bounded worker pool and joins every
// worker before the commit phase begins, built on errgroup
// (errgroup.WithContext + SetLimit + per-item goroutine).
//
// Workers only do the part of Put that doesn't touch shared Vault state:
// content encoding and best-effort text decoding. Each worker writes its
// result into its own preallocated slot, so no shared mutable state
// crosses the worker boundary. A single-threaded commit phase then
// applies the prepared items to the vault in submission order, exactly
// as if PutBytes had been called for each one sequentially.

// BulkItem is one record to ingest via PutBulk.
type BulkItem struct {
	Payload []byte
	Opts    PutOptions
}

// BulkResult is the outcome of one BulkItem.
type BulkResult struct {
	FrameID FrameID
	Err     error
}

// BulkOptions configures PutBulk.
type BulkOptions struct {
	// Concurrency bounds the worker pool size. 0 picks a small fixed
	// default (4) rather than GOMAXPROCS, since preparation work here is
	// mostly allocation and copying, not compute-bound.
	Concurrency int

	// Context is checked between records in both the prepare and commit
	// phases: once it is cancelled no further item is applied and this
	// call commits nothing, AutoCommit included. Items applied before the
	// cancellation was observed stay pending (in memory and in the WAL)
	// until the next Commit.
	Context context.Context

	// AutoCommit calls Commit() once after every item has been applied.
	// When false, the caller commits explicitly, e.g. to batch several
	// PutBulk calls into one generation.
	AutoCommit bool
}

func (o BulkOptions) context() context.Context {
	if o.Context != nil {
		return o.Context
	}
	return context.Background()
}

func (o BulkOptions) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 4
}

type preparedItem struct {
	encoded []byte
	text    string
	opts    PutOptions
	err     error
}

// PutBulk ingests items concurrently and returns one BulkResult per item,
// in the same order as items. If opts.Context is cancelled before the
// commit phase reaches an item, that item and everything after it gets
// context.Canceled as its Err and nothing from this call is committed
// (the file is unchanged from the previous footer).
func (v *Vault) PutBulk(items []BulkItem, opts BulkOptions) ([]BulkResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ctx := opts.context()
	prepared := make([]preparedItem, len(items))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				prepared[i].err = gCtx.Err()
				return nil
			default:
			}

			encoded, err := encodeContent(item.Payload, item.Opts.Encoding)
			if err != nil {
				prepared[i].err = fmt.Errorf("item %d: encode content: %w", i, err)
				return nil
			}
			prepared[i] = preparedItem{
				encoded: encoded,
				text:    decodeTextBestEffort(item.Payload),
				opts:    item.Opts,
			}
			return nil
		})
	}
	// Every goroutine above returns nil; per-item errors are carried in
	// prepared[i].err instead, so a single failing item can't abort
	// in-flight siblings. g.Wait() only ever reports the ctx's own error.
	_ = g.Wait()

	results := make([]BulkResult, len(items))

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.readOnly {
		for i := range results {
			results[i].Err = ErrRequiresOpen
		}
		return results, ErrRequiresOpen
	}
	if v.state == stateSealed {
		for i := range results {
			results[i].Err = ErrRequiresSealed
		}
		return results, ErrRequiresSealed
	}

	cancelled := false
	for i, p := range prepared {
		if cancelled {
			results[i].Err = context.Canceled
			continue
		}
		if ctx.Err() != nil {
			cancelled = true
			results[i].Err = ctx.Err()
			continue
		}
		if p.err != nil {
			results[i].Err = p.err
			continue
		}

		id, err := v.putPrepared(p)
		results[i].FrameID = id
		results[i].Err = err
	}

	if opts.AutoCommit && !cancelled {
		if err := v.commitLocked(); err != nil {
			return results, err
		}
	}

	return results, nil
}

// putPrepared applies one worker-prepared item to the vault's in-memory
// state and WAL, the same work PutBytes does past content encoding. The
// caller holds v.mu.
func (v *Vault) putPrepared(p preparedItem) (FrameID, error) {
	opts := p.opts
	if opts.Timestamp.IsZero() {
		opts.Timestamp = time.Now()
	}

	if v.opts.Ticket != nil {
		if err := v.checkTicket(int64(len(p.encoded))); err != nil {
			return 0, err
		}
	}

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
	offset, err := appendDataRegion(v.fh, &v.dataCursor, p.encoded)
	if err != nil {
		return 0, err
	}

	f := frame{
		id: id, status: FrameActive, role: opts.Role, ts: opts.Timestamp.UTC(),
		uri: opts.URI, title: opts.Title, track: opts.Track, tags: opts.Tags,
		labels: opts.Labels, metadata: opts.Metadata,
		contentOffset: offset, contentLength: uint64(len(p.encoded)), contentEncoding: opts.Encoding,
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
	v.sketch.observeFrame(blake3Sum(p.encoded), f.tags)

	if v.opts.EnableLex {
		v.lex.addDoc(f.id, p.text)
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
	return f.id, nil
}
