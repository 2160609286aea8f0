package knowledge_test

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/barekit/tabletalk/pkg/knowledge"
	"github.com/barekit/tabletalk/pkg/knowledge/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEmbedder hashes words into a small bag-of-words vector.
type wordEmbedder struct {
	calls int
	err   error
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 256)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
			v[h.Sum32()%256]++
		}
		out[i] = v
	}
	return out, nil
}

var notes = []knowledge.Note{
	{Text: "Premium products cost more than 1000 dollars.", Tags: []string{"pricing"}},
	{Text: "Discontinued items have in_stock set to false.", Tags: []string{"inventory"}},
	{Text: "The Audio category covers headphones and speakers."},
}

func TestRelevantRanksBySimilarity(t *testing.T) {
	t.Parallel()

	kb := knowledge.New(&wordEmbedder{}, inmemory.New())
	require.NoError(t, kb.Ingest(context.Background(), append([]knowledge.Note(nil), notes...)))

	hits, err := kb.Relevant(context.Background(), "which premium products do we sell?", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, notes[0].Text, hits[0].Text)
	assert.Equal(t, []string{"pricing"}, hits[0].Tags)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	kb := knowledge.New(&wordEmbedder{}, store)
	ctx := context.Background()

	require.NoError(t, kb.Ingest(ctx, append([]knowledge.Note(nil), notes...)))
	require.NoError(t, kb.Ingest(ctx, append([]knowledge.Note(nil), notes...)))

	all, err := store.Search(ctx, make([]float32, 256), 0)
	require.NoError(t, err)
	assert.Len(t, all, len(notes))
	assert.Equal(t, knowledge.NoteID("  Premium products cost more than 1000 dollars."), knowledge.NoteID(notes[0].Text))
}

func TestMinScoreFiltersWeakHits(t *testing.T) {
	t.Parallel()

	kb := knowledge.New(&wordEmbedder{}, inmemory.New(), knowledge.WithMinScore(0.3))
	require.NoError(t, kb.Ingest(context.Background(), append([]knowledge.Note(nil), notes...)))

	hits, err := kb.Relevant(context.Background(), "zebra giraffe", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEmbedderFailure(t *testing.T) {
	t.Parallel()

	kb := knowledge.New(&wordEmbedder{err: errors.New("quota exceeded")}, inmemory.New())
	_, err := kb.Relevant(context.Background(), "anything", 3)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Empty(t, knowledge.Format(nil))
	out := knowledge.Format([]knowledge.Note{{Text: "a"}, {Text: "b"}})
	assert.Equal(t, "\n\nRelevant notes about the data:\n- a\n- b\n", out)
}

func TestLoadNotes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "notes.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
notes:
  - text: Premium products cost more than 1000 dollars.
    tags: [pricing]
  - id: audio-scope
    text: The Audio category covers headphones.
`), 0o600))

	loaded, err := knowledge.LoadNotes(good)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "audio-scope", loaded[1].ID)
	assert.Equal(t, []string{"pricing"}, loaded[0].Tags)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("notes:\n  - tags: [x]\n"), 0o600))
	_, err = knowledge.LoadNotes(bad)
	assert.Error(t, err)
}
