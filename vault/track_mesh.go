package vault

import "strings"

// Logic-mesh entity graph. Nodes dedup by (name lowercased, kind) with an
// upsert that unions mention sets and keeps the higher confidence.
//
// Edges are stored as indices into the node table (arena + index), never
// as raw pointers.

// meshKey returns the dedup key for a node: lowercased name + kind.
func meshKey(name, kind string) string {
	return strings.ToLower(name) + "\x00" + kind
}

func findMeshNode(m *meshPayload, name, kind string) int {
	key := meshKey(name, kind)
	for i, n := range m.nodes {
		if meshKey(n.name, n.kind) == key {
			return i
		}
	}
	return -1
}

// upsertMeshNode inserts a new node or merges into an existing one: the
// mention set is unioned and confidence takes the max of the two values,
// matching the original Rust prototype's merge behavior.
func upsertMeshNode(m *meshPayload, name, kind, displayName string, confidence float64, mention FrameID) int {
	if i := findMeshNode(m, name, kind); i >= 0 {
		n := &m.nodes[i]
		if confidence > n.confidence {
			n.confidence = confidence
		}
		if displayName != "" {
			n.displayName = displayName
		}
		if n.mentions == nil {
			n.mentions = make(map[FrameID]struct{})
		}
		n.mentions[mention] = struct{}{}
		return i
	}

	node := meshNode{
		name:        name,
		kind:        kind,
		displayName: displayName,
		confidence:  confidence,
		mentions:    map[FrameID]struct{}{mention: {}},
	}
	m.nodes = append(m.nodes, node)
	return len(m.nodes) - 1
}

// upsertMeshEdge adds an edge if no edge with the same (from, to, linkType)
// triple already exists.
func upsertMeshEdge(m *meshPayload, from, to int, linkType string) {
	for _, e := range m.edges {
		if e.from == from && e.to == to && e.linkType == linkType {
			return
		}
	}
	m.edges = append(m.edges, meshEdge{from: from, to: to, linkType: linkType})
}
