package orchestrator

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/waxrag/waxrag/embed"
	"github.com/waxrag/waxrag/lex"
	"github.com/waxrag/waxrag/mv2s"
	"github.com/waxrag/waxrag/search"
	"github.com/waxrag/waxrag/structmem"
	"github.com/waxrag/waxrag/vector"
	"github.com/waxrag/waxrag/waxerr"
	"github.com/waxrag/waxrag/waxstore"
)

// Orchestrator is the single cooperative-task front door over one store
// file plus its three in-memory search engines. Exactly one logical
// caller drives it at a time, mirroring the store's own writer-lease
// discipline.
type Orchestrator struct {
	mu sync.Mutex

	store *waxstore.Store
	lex   *lex.Index
	vec   *vector.Index
	facts *structmem.Store

	embedder embed.Provider
	cfg      Config

	cache  *embedCache
	closed bool
}

// New opens (or creates) the store at path and rebuilds every in-memory
// engine from its committed frames plus journal replay. Policy invalid for
// the requested config is rejected before any file is touched.
func New(path string, cfg Config, embedder embed.Provider) (*Orchestrator, error) {
	const op = "orchestrator: new"
	if err := cfg.validate(embedder != nil); err != nil {
		return nil, err
	}

	var st *waxstore.Store
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		st, err = waxstore.Create(path, waxstore.CreateOptions{})
	} else {
		st, err = waxstore.Open(path, true)
	}
	if err != nil {
		return nil, waxerr.Wrap(op, waxerr.KindIO, "failed to open or create store", err)
	}

	dim := uint32(0)
	if embedder != nil {
		dim = embedder.Dimensions()
	}
	o := &Orchestrator{
		store:    st,
		lex:      lex.New(),
		vec:      vector.New(vector.MetricCosine, dim),
		facts:    structmem.New(),
		embedder: embedder,
		cfg:      cfg,
		cache:    newEmbedCache(cfg.EmbeddingCacheCapacity),
	}
	if err := o.rebuildFromStore(); err != nil {
		return nil, err
	}
	return o, nil
}

// rebuildFromStore replays committed, non-journal frames into the lex and
// vector engines and replays journal frames into the fact store, in
// ascending frame id order. No re-embedding happens: embeddings already
// persisted on the frame are reused as-is.
func (o *Orchestrator) rebuildFromStore() error {
	const op = "orchestrator: rebuild"
	metas := o.store.FrameMetas()
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	for _, f := range metas {
		if f.HasKind && f.Kind == internalJournalKind {
			content, err := o.store.FrameContent(f.ID)
			if err != nil {
				return waxerr.Wrap(op, waxerr.KindIO, "failed to read journal frame", err).WithID(f.ID)
			}
			rec, err := decodeJournal(content)
			if err != nil {
				return err
			}
			o.applyJournal(rec)
			continue
		}
		content, err := o.store.FrameContent(f.ID)
		if err != nil {
			return waxerr.Wrap(op, waxerr.KindIO, "failed to read frame content", err).WithID(f.ID)
		}
		o.lex.Index(f.ID, content)
		if f.HasEmbedding {
			o.vec.Add(f.ID, f.Embedding.Vector)
		}
	}
	return nil
}

func (o *Orchestrator) applyJournal(rec journalRecord) {
	switch rec.Op {
	case journalOpUpsert:
		o.facts.Upsert(rec.Entity, rec.Attribute, rec.Value, rec.Metadata)
	case journalOpRemove:
		o.facts.Remove(rec.Entity, rec.Attribute)
	}
}

func (o *Orchestrator) checkOpen(op string) error {
	if o.closed {
		return waxerr.New(op, waxerr.KindState, "orchestrator is closed")
	}
	return nil
}

// Remember chunks content into overlapping windows, stages one frame per
// chunk, stages the lex and (if enabled) vector index entries, and caches
// each chunk's embedding under a content+identity hash. Nothing is visible
// to Recall until Flush.
func (o *Orchestrator) Remember(ctx context.Context, content string, meta map[string]string) ([]uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	const op = "orchestrator: remember"
	if err := o.checkOpen(op); err != nil {
		return nil, err
	}

	chunks := chunkText(content, o.cfg.Chunking.TargetTokens, o.cfg.Chunking.OverlapTokens)
	if len(chunks) == 0 {
		return nil, nil
	}

	inputs := make([]waxstore.PutInput, len(chunks))
	for i, c := range chunks {
		inputs[i] = waxstore.PutInput{Content: []byte(c), Entries: meta}
	}
	ids, err := o.store.PutBatch(inputs)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		o.lex.StageIndex(id, []byte(chunks[i]))
	}

	if o.cfg.EnableVectorSearch && o.embedder != nil {
		vecs, err := o.embedBatch(ctx, chunks)
		if err != nil {
			return nil, err
		}
		var identity *embed.Identity
		if id, ok := o.embedder.Identity(); ok {
			identity = &id
		}
		for i, id := range ids {
			if err := o.vec.StageAdd(id, vecs[i]); err != nil {
				return nil, err
			}
			if err := o.store.PutEmbedding(id, vecs[i], identity); err != nil {
				return nil, err
			}
		}
	}
	return ids, nil
}

// embedBatch computes embeddings for texts, splitting by
// ingest_batch_size when the embedder supports batching, and serving
// already-seen (text, identity) pairs from cache.
func (o *Orchestrator) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	identity, hasIdentity := o.embedder.Identity()
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		key := embedCacheKey(t, identity, hasIdentity)
		if v, ok := o.cache.get(key); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	batcher, isBatch := o.embedder.(embed.BatchProvider)
	batchSize := o.cfg.IngestBatchSize
	if batchSize <= 0 {
		batchSize = len(missTexts)
	}

	var computed [][]float32
	if isBatch {
		for start := 0; start < len(missTexts); start += batchSize {
			end := start + batchSize
			if end > len(missTexts) {
				end = len(missTexts)
			}
			vecs, err := batcher.EmbedBatch(ctx, missTexts[start:end])
			if err != nil {
				return nil, err
			}
			computed = append(computed, vecs...)
		}
	} else {
		for _, t := range missTexts {
			v, err := o.embedder.Embed(ctx, t)
			if err != nil {
				return nil, err
			}
			computed = append(computed, v)
		}
	}
	for i, idx := range missIdx {
		out[idx] = computed[i]
		key := embedCacheKey(missTexts[i], identity, hasIdentity)
		o.cache.put(key, computed[i])
	}
	return out, nil
}

// cachedQueryEmbed computes (or serves from cache) the embedding for a
// single query string, the same cache embedBatch populates, so a repeated
// Recall with the same query never re-invokes the embedder.
func (o *Orchestrator) cachedQueryEmbed(ctx context.Context, query string) ([]float32, error) {
	identity, hasIdentity := o.embedder.Identity()
	key := embedCacheKey(query, identity, hasIdentity)
	if v, ok := o.cache.get(key); ok {
		return v, nil
	}
	v, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	o.cache.put(key, v)
	return v, nil
}

// RememberFact stages a structured-memory upsert and its journal frame.
func (o *Orchestrator) RememberFact(entity, attribute, value string, meta map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	const op = "orchestrator: remember_fact"
	if err := o.checkOpen(op); err != nil {
		return err
	}
	if err := o.facts.StageUpsert(entity, attribute, value, meta); err != nil {
		return err
	}
	payload := encodeJournal(journalRecord{Op: journalOpUpsert, Entity: entity, Attribute: attribute, Value: value, Metadata: meta})
	_, err := o.store.Put(waxstore.PutInput{Content: payload, HasKind: true, Kind: internalJournalKind})
	return err
}

// ForgetFact stages a structured-memory removal and its journal frame.
func (o *Orchestrator) ForgetFact(entity, attribute string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	const op = "orchestrator: forget_fact"
	if err := o.checkOpen(op); err != nil {
		return err
	}
	if err := o.facts.StageRemove(entity, attribute); err != nil {
		return err
	}
	payload := encodeJournal(journalRecord{Op: journalOpRemove, Entity: entity, Attribute: attribute})
	_, err := o.store.Put(waxstore.PutInput{Content: payload, HasKind: true, Kind: internalJournalKind})
	return err
}

// RecallFactsByEntityPrefix reads committed structured-memory facts
// directly; it never consults the store or either search lane.
func (o *Orchestrator) RecallFactsByEntityPrefix(prefix string, limit int) []structmem.Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.facts.QueryByEntityPrefix(prefix, limit)
}

// Flush commits the store, then (only on success) the text and vector
// engines' staged mutations, then the structured-memory store's, in that
// order, so a failed store commit leaves every engine's staged state
// untouched for a later retry.
func (o *Orchestrator) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	const op = "orchestrator: flush"
	if err := o.checkOpen(op); err != nil {
		return err
	}
	if err := o.store.Commit(); err != nil {
		return err
	}
	o.lex.CommitStaged()
	o.vec.CommitStaged()
	if err := o.facts.CommitStaged(); err != nil {
		return err
	}
	return nil
}

// Close auto-commits locally staged mutations, then closes the store and
// releases its writer lease. Any later call on this Orchestrator fails.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	const op = "orchestrator: close"
	if err := o.checkOpen(op); err != nil {
		return err
	}
	if err := o.store.Commit(); err != nil {
		return err
	}
	o.lex.CommitStaged()
	o.vec.CommitStaged()
	if err := o.facts.CommitStaged(); err != nil {
		return err
	}
	if err := o.store.Close(); err != nil {
		return err
	}
	o.closed = true
	return nil
}

// RecallResult is one item of an assembled Recall response.
type RecallResult = search.ContextItem

// RecallResponse is Recall's return value (spec §4.7/§4.8).
type RecallResponse struct {
	Items       []RecallResult
	TotalTokens int
}

// Recall enforces mode policy, computes or accepts the query embedding,
// fans out to the enabled lanes (documents via lex, structured facts
// projected into the same text lane, committed vectors via the vector
// engine), validates text-lane hits against live committed frames, fuses
// per mode, and assembles token-budgeted context.
func (o *Orchestrator) Recall(ctx context.Context, query string, embedding []float32) (RecallResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	const op = "orchestrator: recall"
	if err := o.checkOpen(op); err != nil {
		return RecallResponse{}, err
	}

	mode := o.cfg.RAG.SearchMode
	if mode == search.ModeVectorOnly || mode == search.ModeHybrid {
		if len(embedding) == 0 {
			if o.embedder == nil {
				return RecallResponse{}, waxerr.New(op, waxerr.KindPolicy, "vector lane requires an embedding provider")
			}
			var err error
			embedding, err = o.cachedQueryEmbed(ctx, query)
			if err != nil {
				return RecallResponse{}, err
			}
		}
	}

	req := search.Request{
		Query: query, Embedding: embedding, TopK: o.cfg.RAG.SearchTopK, Mode: mode,
		PreviewMaxBytes: o.cfg.RAG.PreviewMaxBytes, MaxContextTokens: o.cfg.RAG.MaxContextTokens,
		SnippetMaxTokens: o.cfg.RAG.SnippetMaxTokens, ExpansionMaxTokens: o.cfg.RAG.ExpansionMaxTokens,
	}
	textHits, vecHits, err := search.RunLanes(req, o.lex, o.vec)
	if err != nil {
		return RecallResponse{}, err
	}

	// Validate document text-lane hits against committed store metadata:
	// frame must still exist, be live, and not be an internal journal
	// frame.
	validText := textHits[:0:0]
	for _, h := range textHits {
		meta, err := o.store.FrameMeta(h.FrameID)
		if err != nil {
			continue
		}
		if meta.Status != mv2s.StatusLive {
			continue
		}
		if meta.HasKind && meta.Kind == internalJournalKind {
			continue
		}
		validText = append(validText, h)
	}

	// Project structured-memory facts into the text lane as their own
	// source, searched via a transient lex index so they can compete on
	// the same TF×IDF ranking without polluting the document index.
	factHits, factIDs := o.searchFacts(query, req.TopK, req.PreviewMaxBytes)

	fused := search.Fuse(mode, append(validText, factHits...), vecHits)
	for i := range fused {
		if factIDs[fused[i].FrameID] {
			fused[i].Sources = replaceSource(fused[i].Sources, search.SourceText, search.SourceStructuredMemory)
		}
	}

	maxItems := o.cfg.RAG.MaxSnippets
	if maxItems <= 0 {
		maxItems = req.TopK
	}
	ctxBuilt := search.BuildFastRAGContext(fused, maxItems, req.PreviewMaxBytes, req.MaxContextTokens, req.SnippetMaxTokens, req.ExpansionMaxTokens)
	return RecallResponse{Items: ctxBuilt.Items, TotalTokens: ctxBuilt.TotalTokens}, nil
}
