package orchestrator

import (
	"fmt"

	"github.com/waxrag/waxrag/lex"
	"github.com/waxrag/waxrag/search"
)

// factIDOffset separates structured-memory fact ids from store frame ids
// in the fused result space: a fact's numeric id in Recall output is
// entry.ID + factIDOffset, never colliding with a real frame id.
const factIDOffset = uint64(1) << 62

// searchFacts projects every structured-memory fact as "{entity}
// {attribute} {value}" into a transient lex index (so it ranks by the
// same TF×IDF scoring as documents) and returns its hits translated into
// the fact id space, plus the set of fused-space ids that came from facts
// so the caller can relabel their source after fusion.
func (o *Orchestrator) searchFacts(query string, topK, previewMaxBytes int) ([]lex.Hit, map[uint64]bool) {
	entries := o.facts.QueryByEntityPrefix("", -1)
	if len(entries) == 0 {
		return nil, nil
	}
	tmp := lex.New()
	idToEntry := make(map[uint64]int, len(entries))
	for i, e := range entries {
		projected := fmt.Sprintf("%s %s %s", e.Entity, e.Attribute, e.Value)
		fusedID := factIDOffset + e.ID
		tmp.Index(fusedID, []byte(projected))
		idToEntry[fusedID] = i
	}
	hits := tmp.Search(query, topK, previewMaxBytes)
	factIDs := make(map[uint64]bool, len(hits))
	for _, h := range hits {
		factIDs[h.FrameID] = true
	}
	return hits, factIDs
}

func replaceSource(sources []search.Source, from, to search.Source) []search.Source {
	out := make([]search.Source, len(sources))
	for i, s := range sources {
		if s == from {
			out[i] = to
		} else {
			out[i] = s
		}
	}
	return out
}
