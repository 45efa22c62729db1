package vault

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Timeline assembly: joins top-level frames with their DocumentChunk/
// ExtractedImage children and produces a short preview of the decoded
// content, truncated on a rune boundary.

const timelinePreviewBytes = 280

// TimelineQuery selects and orders a slice of the timeline.
type TimelineQuery struct {
	Limit   int
	Since   time.Time
	Until   time.Time
	Reverse bool
}

// TimelineEntry is one top-level frame (with its children folded in) as
// returned by Timeline.
type TimelineEntry struct {
	FrameID   FrameID
	Timestamp time.Time
	URI       string
	Title     string
	Tags      []string
	Preview   string
	Children  []TimelineEntry
}

// Timeline returns frames ordered by (timestamp, frame_id), optionally
// windowed by Since/Until and reversed, each decorated with a content
// preview and its child frames (DocumentChunk/ExtractedImage whose
// ParentID points at it). Only top-level (non-child) frames are returned
// at the top level; children are nested under their parent.
func (v *Vault) Timeline(q TimelineQuery) ([]TimelineEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := v.timeEntries
	if entries == nil {
		return nil, nil
	}

	childrenByParent := make(map[FrameID][]frame)
	for _, f := range v.frames {
		if f.parentID != nil {
			childrenByParent[*f.parentID] = append(childrenByParent[*f.parentID], f)
		}
	}

	var out []TimelineEntry
	walk := func(e timeIndexEntry) error {
		f, err := v.frameByID(e.frameID)
		if err != nil {
			return err
		}
		if f.parentID != nil {
			return nil // children are nested under their parent, not top-level
		}
		if !q.Since.IsZero() && f.ts.Before(q.Since) {
			return nil
		}
		if !q.Until.IsZero() && f.ts.After(q.Until) {
			return nil
		}

		entry, err := v.buildTimelineEntry(f)
		if err != nil {
			return err
		}
		for _, child := range childrenByParent[f.id] {
			childEntry, err := v.buildTimelineEntry(child)
			if err != nil {
				return err
			}
			entry.Children = append(entry.Children, childEntry)
		}
		out = append(out, entry)
		return nil
	}

	if q.Reverse {
		for i := len(entries) - 1; i >= 0; i-- {
			if err := walk(entries[i]); err != nil {
				return nil, err
			}
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
	} else {
		for _, e := range entries {
			if err := walk(e); err != nil {
				return nil, err
			}
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
	}

	return out, nil
}

func (v *Vault) buildTimelineEntry(f frame) (TimelineEntry, error) {
	preview, err := v.framePreview(f)
	if err != nil {
		return TimelineEntry{}, err
	}
	return TimelineEntry{
		FrameID: f.id, Timestamp: f.ts, URI: f.uri, Title: f.title, Tags: f.tags, Preview: preview,
	}, nil
}

// framePreview reads and decodes a frame's content and truncates it to
// timelinePreviewBytes, backing off to the nearest earlier rune boundary
// so UTF-8 text is never cut mid-codepoint.
func (v *Vault) framePreview(f frame) (string, error) {
	raw, err := readDataRegion(v.fh, f.contentOffset, f.contentLength)
	if err != nil {
		return "", fmt.Errorf("read frame %d content: %w", f.id, err)
	}
	decoded, err := decodeContent(raw, f.contentEncoding)
	if err != nil {
		return "", fmt.Errorf("decode frame %d content: %w", f.id, err)
	}

	if len(decoded) <= timelinePreviewBytes {
		return string(decoded), nil
	}

	cut := timelinePreviewBytes
	for cut > 0 && !utf8.RuneStart(decoded[cut]) {
		cut--
	}
	return string(decoded[:cut]), nil
}
