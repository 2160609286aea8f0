// Package knowledge holds business notes about the data ("premium means a
// price above 1000") and retrieves the ones relevant to a question. Notes
// are embedded once at ingest time and searched by vector similarity.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Note is one piece of domain knowledge.
type Note struct {
	ID    string   `json:"id" yaml:"id,omitempty"`
	Text  string   `json:"text" yaml:"text"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Score float32  `json:"score,omitempty" yaml:"-"` // Similarity score
}

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store persists notes with their vectors.
type Store interface {
	// Upsert inserts or replaces notes by ID.
	Upsert(ctx context.Context, vectors [][]float32, notes []Note) error
	// Search returns at most limit notes ordered by similarity.
	Search(ctx context.Context, query []float32, limit int) ([]Note, error)
}

// Base combines an Embedder and a Store.
type Base struct {
	embedder Embedder
	store    Store
	minScore float32
}

// Option configures a Base.
type Option func(*Base)

// WithMinScore drops search hits scoring below s.
func WithMinScore(s float32) Option {
	return func(b *Base) {
		b.minScore = s
	}
}

// New creates a Base.
func New(embedder Embedder, store Store, opts ...Option) *Base {
	b := &Base{embedder: embedder, store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ingest embeds and stores notes. Notes without an ID get one derived from
// their text, so ingesting the same file twice does not duplicate notes.
func (b *Base) Ingest(ctx context.Context, notes []Note) error {
	if len(notes) == 0 {
		return nil
	}
	texts := make([]string, len(notes))
	for i := range notes {
		if notes[i].ID == "" {
			notes[i].ID = NoteID(notes[i].Text)
		}
		texts[i] = notes[i].Text
	}

	vectors, err := b.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed notes: %w", err)
	}
	if len(vectors) != len(notes) {
		return fmt.Errorf("embedder returned %d vectors for %d notes", len(vectors), len(notes))
	}

	return b.store.Upsert(ctx, vectors, notes)
}

// Relevant returns up to limit notes for a question.
func (b *Base) Relevant(ctx context.Context, question string, limit int) ([]Note, error) {
	vectors, err := b.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := b.store.Search(ctx, vectors[0], limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= b.minScore {
			out = append(out, h)
		}
	}
	return out, nil
}

// NoteID derives a stable UUID from a note's text.
func NoteID(text string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tabletalk:note:"+strings.TrimSpace(text))).String()
}

// Format renders notes as a block appended to a question.
func Format(notes []Note) string {
	if len(notes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRelevant notes about the data:\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s\n", n.Text)
	}
	return b.String()
}

type notesFile struct {
	Notes []Note `yaml:"notes"`
}

// LoadNotes reads a YAML file of the form
//
//	notes:
//	  - text: Premium products cost more than 1000.
//	    tags: [pricing]
func LoadNotes(path string) ([]Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	var f notesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse notes: %w", err)
	}
	for i, n := range f.Notes {
		if strings.TrimSpace(n.Text) == "" {
			return nil, fmt.Errorf("note %d has no text", i)
		}
	}
	return f.Notes, nil
}
