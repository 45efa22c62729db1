package vault

import (
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"
)

// Lexical index track. Tokenization is delegated to bleve's standard
// analyzer; the inverted index itself is a bespoke postings codec
// sized for an embedded file rather than bleve's own segment format.

type lexPosting struct {
	frameID   FrameID
	termFreq  uint32
}

// lexIndex is the in-memory inverted index built from frame text before
// it's serialized into a lex segment.
type lexIndex struct {
	postings map[string][]lexPosting
	docCount int
}

func newLexIndex() *lexIndex {
	return &lexIndex{postings: make(map[string][]lexPosting)}
}

var lexAnalyzer = newLexAnalyzer()

func newLexAnalyzer() analysis.Analyzer {
	a, err := registry.NewCache().AnalyzerNamed(standard.Name)
	if err != nil {
		// The standard analyzer's construction is static (no I/O, no
		// runtime config); a failure here means the bleve dependency
		// itself is broken, not recoverable per-call.
		panic(fmt.Sprintf("vault: building standard lex analyzer: %v", err))
	}
	return a
}

func tokenize(text string) []string {
	stream := lexAnalyzer.Analyze([]byte(text))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		out = append(out, string(tok.Term))
	}
	return out
}

// addDoc folds one frame's text into the index, accumulating per-term
// frequencies.
func (idx *lexIndex) addDoc(id FrameID, text string) {
	idx.docCount++

	freq := make(map[string]uint32)
	for _, term := range tokenize(text) {
		freq[term]++
	}
	for term, tf := range freq {
		idx.postings[term] = append(idx.postings[term], lexPosting{frameID: id, termFreq: tf})
	}
}

// encodeLexSegment serializes the inverted index with terms in sorted
// order and postings in ascending frame-id order, for deterministic bytes.
func encodeLexSegment(idx *lexIndex) []byte {
	terms := make([]string, 0, len(idx.postings))
	for t := range idx.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	w := &tocWriter{}
	w.u32(uint32(len(terms)))
	for _, term := range terms {
		postings := idx.postings[term]
		sorted := make([]lexPosting, len(postings))
		copy(sorted, postings)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].frameID < sorted[j].frameID })

		w.str(term)
		w.u32(uint32(len(sorted)))
		for _, p := range sorted {
			w.u64(uint64(p.frameID))
			w.u32(p.termFreq)
		}
	}

	return w.buf
}

func decodeLexSegment(buf []byte) (map[string][]lexPosting, error) {
	r := &tocReader{buf: buf}

	nTerms, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: lex segment: %v", ErrInvalidToc, err)
	}

	out := make(map[string][]lexPosting, nTerms)
	for i := uint32(0); i < nTerms; i++ {
		term, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("%w: lex term %d: %v", ErrInvalidToc, i, err)
		}

		nPostings, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("%w: lex postings %d: %v", ErrInvalidToc, i, err)
		}

		postings := make([]lexPosting, 0, nPostings)
		for j := uint32(0); j < nPostings; j++ {
			fid, err := r.u64()
			if err != nil {
				return nil, fmt.Errorf("%w: lex posting %d/%d: %v", ErrInvalidToc, i, j, err)
			}
			tf, err := r.u32()
			if err != nil {
				return nil, fmt.Errorf("%w: lex posting %d/%d: %v", ErrInvalidToc, i, j, err)
			}
			postings = append(postings, lexPosting{frameID: FrameID(fid), termFreq: tf})
		}

		out[term] = postings
	}

	return out, nil
}

// LexHit is one ranked result from SearchLex.
type LexHit struct {
	FrameID FrameID
	Score   float64
}

// searchLexPostings scores documents by summed query-term frequency (a
// plain bag-of-words overlap, not full BM25 — enough to rank an embedded
// agentic-memory timeline without an external IR engine).
func searchLexPostings(postings map[string][]lexPosting, query string, topK int) []LexHit {
	scores := make(map[FrameID]float64)
	for _, term := range tokenize(query) {
		for _, p := range postings[term] {
			scores[p.frameID] += float64(p.termFreq)
		}
	}

	hits := make([]LexHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, LexHit{FrameID: id, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FrameID < hits[j].FrameID
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}

	return hits
}
