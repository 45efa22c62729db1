package vault

import "time"

// FrameID is a dense, monotonically assigned identifier. Frame 0 is the
// first frame ever put into a vault; IDs never have gaps and are never
// reused.
type FrameID uint64

// FrameStatus is the lifecycle state of a frame. It only ever moves
// forward: Active -> Superseded|Deleted, never back.
type FrameStatus uint8

const (
	FrameActive FrameStatus = iota
	FrameSuperseded
	FrameDeleted
)

func (s FrameStatus) String() string {
	switch s {
	case FrameActive:
		return "active"
	case FrameSuperseded:
		return "superseded"
	case FrameDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FrameRole distinguishes top-level documents from their derived children.
type FrameRole uint8

const (
	RoleDocument FrameRole = iota
	RoleDocumentChunk
	RoleExtractedImage
)

// ContentEncoding describes how a frame's payload bytes are stored in the
// data region.
type ContentEncoding uint8

const (
	EncodingPlain ContentEncoding = iota
	EncodingZstd
)

// EnrichmentState tracks which collateral indexes a frame has been fed
// into. It is a bitmask so a frame can be both Searchable and Enriched.
type EnrichmentState uint8

const (
	EnrichSearchable EnrichmentState = 1 << iota
	EnrichEnriched
)

// frame is the immutable (once committed) record describing one unit of
// stored content plus its location in the data region.
type frame struct {
	id       FrameID
	status   FrameStatus
	role     FrameRole
	ts       time.Time
	uri      string
	title    string
	track    string
	tags     []string
	labels   map[string]string
	metadata map[string]string

	contentOffset   uint64
	contentLength   uint64
	contentEncoding ContentEncoding

	parentID *FrameID

	enrichment EnrichmentState
}

// PutOptions carries the caller-supplied metadata for a new frame.
//
// Embedding providers, entity extractors and the like are external
// collaborators: the vault core only needs stable places to
// receive their output, so a caller that already has a vector or an
// entity list attaches it here rather than the core computing it.
type PutOptions struct {
	URI       string
	Title     string
	Track     string
	Tags      []string
	Labels    map[string]string
	Metadata  map[string]string
	Role      FrameRole
	ParentID  *FrameID
	Encoding  ContentEncoding
	Timestamp time.Time

	// Vector is an optional embedding indexed into the vector track (if
	// enabled). VectorModel is stored as frame metadata ("vector_model")
	// so search results can be traced back to the embedding provider
	// that produced them.
	Vector      []float32
	VectorModel string

	// Clip is an optional 512-d visual embedding indexed into the CLIP
	// track (if enabled).
	Clip []float32

	// Entities are optional entity mentions folded into the logic-mesh
	// (if enabled).
	Entities []EntityMention

	// TemporalMentions are optional recognized date/time spans within
	// the payload text, folded into the temporal track (if enabled).
	TemporalMentions []TemporalMentionInput

	// TemporalAnchor, if set, becomes this frame's canonical timestamp
	// in the temporal track's anchor half.
	TemporalAnchor *TemporalAnchorInput
}

// EntityMention is one caller-supplied entity reference attached to a
// frame, folded into the logic-mesh by upsertMeshNode/upsertMeshEdge.
type EntityMention struct {
	Name        string
	Kind        string
	DisplayName string
	Confidence  float64
	// RelatedTo links this entity to another entity already present in
	// this call's Entities (by index) via LinkType, building a mesh edge.
	RelatedTo []EntityLink
}

// EntityLink is a directed edge from the enclosing EntityMention to
// Entities[ToIndex] in the same PutOptions.Entities slice.
type EntityLink struct {
	ToIndex  int
	LinkType string
}

// TemporalMentionInput is a caller-recognized date/time span within a
// frame's text.
type TemporalMentionInput struct {
	TsUTC      time.Time
	ByteStart  uint32
	ByteLen    uint32
	Kind       MentionKind
	Confidence float64
	TzHint     string
}

// TemporalAnchorInput sets a frame's canonical timestamp.
type TemporalAnchorInput struct {
	AnchorTS time.Time
	Source   string
}
