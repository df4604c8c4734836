package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text to counts of a few fixed words.
type keywordEmbedder struct {
	calls   atomic.Int64
	failFor string // substring that makes Embed fail
	failAll bool
}

var axes = []string{"board", "donor", "civicrm", "volunteer"}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.failAll || (e.failFor != "" && strings.Contains(text, e.failFor)) {
		return nil, errors.New("embedding service down")
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(axes)+1)
	for i, a := range axes {
		vec[i] = float32(strings.Count(lower, a))
	}
	vec[len(axes)] = 0.01
	return vec, nil
}

func testDocs() []Document {
	return []Document{
		{ID: "gov", Title: "Board basics", Content: "board board governance", Category: CategoryGovernance, Tags: []string{"board"}},
		{ID: "fund", Title: "Donor care", Content: "donor donor stewardship", Category: CategoryFundraising, Tags: []string{"donors", "grants"}},
		{ID: "crm", Title: "CiviCRM setup", Content: "civicrm civicrm migration", Category: CategoryCRMUsage, Tags: []string{"civicrm"}},
		{ID: "vol", Title: "Volunteer retention", Content: "volunteer volunteer board", Category: CategoryHR, Tags: []string{"volunteers"}},
	}
}

func quiet() Option { return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

func TestFindRelevant_OrderAndLimit(t *testing.T) {
	ix := NewIndex(&keywordEmbedder{}, testDocs(), quiet())

	got, err := ix.FindRelevant(context.Background(), "how should the board work", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gov", got[0].Document.ID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}

	all, err := ix.FindRelevant(context.Background(), "donor", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "fund", all[0].Document.ID)
}

func TestFindRelevant_ExcludesUnembedded(t *testing.T) {
	emb := &keywordEmbedder{failFor: "civicrm migration"}
	ix := NewIndex(emb, testDocs(), quiet())

	got, err := ix.FindRelevant(context.Background(), "civicrm", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, sd := range got {
		assert.NotEqual(t, "crm", sd.Document.ID)
	}
}

func TestGenerateEmbeddings_Idempotent(t *testing.T) {
	emb := &keywordEmbedder{}
	ix := NewIndex(emb, testDocs(), quiet())

	require.NoError(t, ix.GenerateEmbeddings(context.Background()))
	first := emb.calls.Load()
	require.NoError(t, ix.GenerateEmbeddings(context.Background()))
	assert.Equal(t, first, emb.calls.Load())
	assert.EqualValues(t, 4, first)
}

func TestGenerateEmbeddings_ConcurrentColdStart(t *testing.T) {
	ix := NewIndex(&keywordEmbedder{}, testDocs(), quiet())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ix.GenerateEmbeddings(context.Background())
		}()
	}
	wg.Wait()

	docs := ix.Documents()
	require.Len(t, docs, 4)
	for _, d := range docs {
		assert.True(t, d.Embedded(), d.ID)
	}
}

func TestGenerateEmbeddings_AllFailRetries(t *testing.T) {
	emb := &keywordEmbedder{failAll: true}
	ix := NewIndex(emb, testDocs(), quiet())

	err := ix.GenerateEmbeddings(context.Background())
	assert.ErrorIs(t, err, ErrEmbedding)

	emb.failAll = false
	require.NoError(t, ix.GenerateEmbeddings(context.Background()))
	got, err := ix.FindRelevant(context.Background(), "volunteer", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "vol", got[0].Document.ID)
}

// cancelingEmbedder cancels the caller's context on the nth call and then
// honours it.
type cancelingEmbedder struct {
	keywordEmbedder
	n      int64
	cancel context.CancelFunc
}

func (e *cancelingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.calls.Load()+1 == e.n && e.cancel != nil {
		e.cancel()
	}
	if err := ctx.Err(); err != nil {
		e.calls.Add(1)
		return nil, err
	}
	return e.keywordEmbedder.Embed(ctx, text)
}

func TestGenerateEmbeddings_CanceledColdStartRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	emb := &cancelingEmbedder{n: 2, cancel: cancel}
	ix := NewIndex(emb, testDocs(), quiet())

	_, err := ix.FindRelevant(ctx, "board", 4)
	require.ErrorIs(t, err, ErrEmbedding)

	embedded := 0
	for _, d := range ix.Documents() {
		if d.Embedded() {
			embedded++
		}
	}
	assert.Equal(t, 1, embedded, "vectors computed before the cancel are kept")

	emb.cancel = nil
	before := emb.calls.Load()
	got, err := ix.FindRelevant(context.Background(), "board", 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	// three missing documents plus the query
	assert.EqualValues(t, 4, emb.calls.Load()-before)
	for _, d := range ix.Documents() {
		assert.True(t, d.Embedded(), d.ID)
	}
}

func TestGenerateEmbeddings_TransientFaultRetriedLater(t *testing.T) {
	emb := &keywordEmbedder{failFor: "civicrm migration"}
	ix := NewIndex(emb, testDocs(), quiet())

	got, err := ix.FindRelevant(context.Background(), "civicrm", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	emb.failFor = ""
	got, err = ix.FindRelevant(context.Background(), "civicrm", 10)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "crm", got[0].Document.ID)
}

func TestContextForQuery(t *testing.T) {
	ix := NewIndex(&keywordEmbedder{}, testDocs(), quiet())

	out, err := ix.ContextForQuery(context.Background(), "donor", "MAS Client")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Relevant Knowledge Base Information:\n**Donor care**\n"))
	assert.Contains(t, out, "tailored to MAS Client needs.")
	assert.Equal(t, 2, strings.Count(out, "**")/2)

	empty := NewIndex(&keywordEmbedder{}, nil, quiet())
	out, err = empty.ContextForQuery(context.Background(), "donor", "MAS Client")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Zero(t, s)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestSearchHelpersAndAdd(t *testing.T) {
	ix := NewIndex(&keywordEmbedder{}, testDocs(), quiet())

	assert.Len(t, ix.SearchByCategory(CategoryFundraising), 1)
	assert.Len(t, ix.SearchByTags([]string{"Grants", "civicrm"}), 2)
	assert.Equal(t, []Category{CategoryGovernance, CategoryFundraising, CategoryCRMUsage, CategoryHR}, ix.Categories())

	doc, err := ix.AddDocument(context.Background(), Document{
		Title:    "Donor surveys",
		Content:  "ask every donor",
		Category: CategoryFundraising,
		Tags:     []string{"Surveys"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.ID, "doc-"))
	assert.Equal(t, []string{"surveys"}, doc.Tags)

	got, err := ix.Document(doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Embedded())

	_, err = ix.Document("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
