// Package knowledge is the in-memory advisory corpus with semantic lookup.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultLimit        = 3
	contextDocs         = 2
	defaultEmbedTimeout = 10 * time.Second
)

var (
	ErrEmbedding = errors.New("knowledge: embedding unavailable")
	ErrNotFound  = errors.New("knowledge: document not found")
)

type ScoredDocument struct {
	Document   Document
	Similarity float64
}

// snapshot is published whole. embedded is set only when every document
// has a vector.
type snapshot struct {
	docs     []Document
	embedded bool
}

type Index struct {
	embedder Embedder
	timeout  time.Duration
	log      *slog.Logger

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

type Option func(*Index)

func WithEmbedTimeout(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.log = l
		}
	}
}

// NewIndex builds an index over docs. Embeddings are computed lazily.
func NewIndex(embedder Embedder, docs []Document, opts ...Option) *Index {
	ix := &Index{embedder: embedder, timeout: defaultEmbedTimeout, log: slog.Default()}
	for _, o := range opts {
		o(ix)
	}
	ix.snap.Store(&snapshot{docs: cloneDocs(docs)})
	return ix
}

func cloneDocs(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		d.Tags = append([]string(nil), d.Tags...)
		d.Embedding = append([]float32(nil), d.Embedding...)
		if len(d.Embedding) == 0 {
			d.Embedding = nil
		}
		out[i] = d
	}
	return out
}

func (ix *Index) embed(ctx context.Context, text string) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()
	return ix.embedder.Embed(cctx, text)
}

// GenerateEmbeddings embeds every document once per process. Vectors that
// succeed are kept; the index is marked warm only once every document has
// one, so later calls embed just the missing documents. A failure caused by
// cancellation or a timeout returns ErrEmbedding so no partial ranking is
// served for that call. If every document fails the index stays cold.
func (ix *Index) GenerateEmbeddings(ctx context.Context) error {
	cur := ix.snap.Load()
	if cur.embedded {
		return nil
	}

	computed := make(map[string][]float32, len(cur.docs))
	var lastErr error
	interrupted := false
	for _, d := range cur.docs {
		if d.Embedded() {
			computed[d.ID] = d.Embedding
			continue
		}
		if ctx.Err() != nil {
			lastErr, interrupted = ctx.Err(), true
			break
		}
		vec, err := ix.embed(ctx, d.embedText())
		if err != nil {
			lastErr = err
			if transient(ctx, err) {
				interrupted = true
				break
			}
			ix.log.Warn("document embedding failed", "doc_id", d.ID, "error", err)
			continue
		}
		computed[d.ID] = vec
	}

	if len(computed) > 0 {
		ix.publish(computed)
	}
	if interrupted || (len(computed) == 0 && len(cur.docs) > 0) {
		return fmt.Errorf("%w: %v", ErrEmbedding, lastErr)
	}
	return nil
}

func transient(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// publish merges vectors into the latest snapshot.
func (ix *Index) publish(computed map[string][]float32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	latest := ix.snap.Load()
	if latest.embedded {
		return
	}
	docs := cloneDocs(latest.docs)
	done := 0
	for i := range docs {
		if vec, ok := computed[docs[i].ID]; ok && !docs[i].Embedded() {
			docs[i].Embedding = vec
		}
		if docs[i].Embedded() {
			done++
		}
	}
	warm := done == len(docs)
	ix.snap.Store(&snapshot{docs: docs, embedded: warm})
	if warm {
		ix.log.Info("knowledge base embedded", "documents", len(docs))
	} else {
		ix.log.Warn("knowledge base partially embedded", "documents", len(docs), "embedded", done)
	}
}

// CosineSimilarity returns dot(a,b)/(|a||b|); zero magnitude yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New("empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// FindRelevant returns at most k documents in non-increasing similarity
// order. Documents without an embedding are never ranked.
func (ix *Index) FindRelevant(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		k = DefaultLimit
	}
	if err := ix.GenerateEmbeddings(ctx); err != nil {
		return nil, err
	}
	qv, err := ix.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	docs := ix.snap.Load().docs
	scored := make([]ScoredDocument, 0, len(docs))
	for _, d := range docs {
		if !d.Embedded() {
			continue
		}
		sim, err := CosineSimilarity(qv, d.Embedding)
		if err != nil {
			ix.log.Warn("skipping document", "doc_id", d.ID, "error", err)
			continue
		}
		scored = append(scored, ScoredDocument{Document: d, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ContextForQuery renders the top matches as a prompt block, or "" when
// nothing matched.
func (ix *Index) ContextForQuery(ctx context.Context, query, role string) (string, error) {
	docs, err := ix.FindRelevant(ctx, query, contextDocs)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(docs))
	for _, sd := range docs {
		parts = append(parts, "**"+sd.Document.Title+"**\n"+sd.Document.Content)
	}

	var b strings.Builder
	b.WriteString("Relevant Knowledge Base Information:\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\nPlease use this information to provide accurate, helpful advice tailored to ")
	b.WriteString(role)
	b.WriteString(" needs.")
	return b.String(), nil
}

// AddDocument embeds and appends doc. A failed embedding still stores the
// document and leaves the index cold so the next lookup retries it.
func (ix *Index) AddDocument(ctx context.Context, doc Document) (Document, error) {
	if strings.TrimSpace(doc.Title) == "" || strings.TrimSpace(doc.Content) == "" {
		return Document{}, errors.New("knowledge: title and content are required")
	}
	if doc.ID == "" {
		doc.ID = "doc-" + strings.ToLower(ulid.Make().String())
	}
	doc.LastUpdated = time.Now().UTC()
	for i, t := range doc.Tags {
		doc.Tags[i] = strings.ToLower(strings.TrimSpace(t))
	}
	doc.Embedding = nil

	if vec, err := ix.embed(ctx, doc.embedText()); err != nil {
		ix.log.Warn("new document embedding failed", "doc_id", doc.ID, "error", err)
	} else {
		doc.Embedding = vec
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	cur := ix.snap.Load()
	docs := append(cloneDocs(cur.docs), doc)
	ix.snap.Store(&snapshot{docs: docs, embedded: cur.embedded && doc.Embedded()})
	return doc, nil
}

func (ix *Index) Document(id string) (Document, error) {
	for _, d := range ix.snap.Load().docs {
		if d.ID == id {
			return d, nil
		}
	}
	return Document{}, ErrNotFound
}

func (ix *Index) Documents() []Document {
	return cloneDocs(ix.snap.Load().docs)
}

func (ix *Index) SearchByCategory(c Category) []Document {
	var out []Document
	for _, d := range ix.snap.Load().docs {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// SearchByTags returns documents carrying any of tags (case-insensitive).
func (ix *Index) SearchByTags(tags []string) []Document {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[strings.ToLower(strings.TrimSpace(t))] = true
	}
	var out []Document
	for _, d := range ix.snap.Load().docs {
		for _, t := range d.Tags {
			if want[strings.ToLower(t)] {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Categories lists the distinct categories in first-seen order.
func (ix *Index) Categories() []Category {
	seen := map[Category]bool{}
	var out []Category
	for _, d := range ix.snap.Load().docs {
		if !seen[d.Category] {
			seen[d.Category] = true
			out = append(out, d.Category)
		}
	}
	return out
}
