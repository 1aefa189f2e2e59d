// Package lex implements the tokenized TF×IDF text index: a two-phase
// staged index, in the same spirit as an ordered in-memory tree mutated
// in isolation and published whole, but keyed by token rather than by
// ordered byte key.
package lex

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// Hit is one ranked search result.
type Hit struct {
	FrameID uint64
	Score   float64
	Preview string
}

// Index is a committed-view TF×IDF text index with staged mutations.
type Index struct {
	mu sync.Mutex

	docs     map[uint64]map[string]int // frameID -> token -> term frequency
	docLen   map[uint64]int
	postings map[string]map[uint64]int // token -> frameID -> term frequency
	sources  map[uint64][]byte         // original bytes, for previews

	staged []stagedDoc // staged index and remove ops, in insertion order
}

type stagedDoc struct {
	frameID uint64
	text    []byte
	remove  bool
}

// New constructs an empty index.
func New() *Index {
	return &Index{
		docs:     make(map[uint64]map[string]int),
		docLen:   make(map[uint64]int),
		postings: make(map[string]map[uint64]int),
		sources:  make(map[uint64][]byte),
	}
}

// Tokenize lowercases and splits on runs of non-alphanumeric bytes.
func Tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else if r >= 'A' && r <= 'Z' {
			cur.WriteRune(r - 'A' + 'a')
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Index immediately indexes frameID's text (bypassing staging).
func (x *Index) Index(frameID uint64, text []byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.applyIndex(frameID, text)
}

// IndexBatch indexes several documents immediately.
func (x *Index) IndexBatch(frameIDs []uint64, texts [][]byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range frameIDs {
		x.applyIndex(id, texts[i])
	}
}

// Remove immediately removes frameID from the index.
func (x *Index) Remove(frameID uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.applyRemove(frameID)
}

// StageIndex queues an index mutation, invisible to Search until
// CommitStaged.
func (x *Index) StageIndex(frameID uint64, text []byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.staged = append(x.staged, stagedDoc{frameID: frameID, text: append([]byte(nil), text...)})
}

// StageIndexBatch queues several index mutations.
func (x *Index) StageIndexBatch(frameIDs []uint64, texts [][]byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range frameIDs {
		x.staged = append(x.staged, stagedDoc{frameID: id, text: append([]byte(nil), texts[i]...)})
	}
}

// StageRemove queues a removal.
func (x *Index) StageRemove(frameID uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.staged = append(x.staged, stagedDoc{frameID: frameID, remove: true})
}

// PendingMutationCount reports how many staged operations are queued.
func (x *Index) PendingMutationCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.staged)
}

// CommitStaged applies every staged index and remove mutation as a single
// timeline in insertion order, so a remove-then-reindex of the same frame
// lands deterministically.
func (x *Index) CommitStaged() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, d := range x.staged {
		if d.remove {
			x.applyRemove(d.frameID)
		} else {
			x.applyIndex(d.frameID, d.text)
		}
	}
	x.staged = nil
}

// RollbackStaged discards queued mutations without applying them.
func (x *Index) RollbackStaged() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.staged = nil
}

func (x *Index) applyIndex(frameID uint64, text []byte) {
	x.applyRemove(frameID)
	tokens := Tokenize(string(text))
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	x.docs[frameID] = tf
	x.docLen[frameID] = len(tokens)
	x.sources[frameID] = append([]byte(nil), text...)
	for tok, count := range tf {
		bucket, ok := x.postings[tok]
		if !ok {
			bucket = make(map[uint64]int)
			x.postings[tok] = bucket
		}
		bucket[frameID] = count
	}
}

func (x *Index) applyRemove(frameID uint64) {
	tf, ok := x.docs[frameID]
	if !ok {
		return
	}
	for tok := range tf {
		if bucket, ok := x.postings[tok]; ok {
			delete(bucket, frameID)
			if len(bucket) == 0 {
				delete(x.postings, tok)
			}
		}
	}
	delete(x.docs, frameID)
	delete(x.docLen, frameID)
	delete(x.sources, frameID)
}

// Search ranks documents by TF*IDF summed over query tokens present in the
// document, breaking ties by lower frame id. topK<=0 returns no results;
// an empty (post-tokenization) query returns no results.
func (x *Index) Search(query string, topK int, previewMaxBytes int) []Hit {
	x.mu.Lock()
	defer x.mu.Unlock()
	if topK <= 0 {
		return nil
	}
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}
	numDocs := len(x.docs)
	if numDocs == 0 {
		return nil
	}

	seen := map[string]bool{}
	scores := map[uint64]float64{}
	for _, tok := range qTokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		bucket, ok := x.postings[tok]
		if !ok {
			continue
		}
		idf := math.Log(float64(numDocs) / float64(len(bucket)))
		for frameID, tf := range bucket {
			scores[frameID] += float64(tf) * idf
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, sc := range scores {
		hits = append(hits, Hit{FrameID: id, Score: sc, Preview: previewOf(x.sources[id], previewMaxBytes)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FrameID < hits[j].FrameID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// previewOf returns the first up-to-max bytes of src, truncated at a
// UTF-8 code-point boundary.
func previewOf(src []byte, max int) string {
	if max <= 0 || len(src) == 0 {
		return ""
	}
	n := max
	if n > len(src) {
		n = len(src)
	}
	for n > 0 && n < len(src) && src[n]&0xC0 == 0x80 {
		n--
	}
	return string(src[:n])
}
