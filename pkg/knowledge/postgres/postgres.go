package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/barekit/tabletalk/pkg/knowledge"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tableName = "tabletalk_notes"

// PostgresStore implements knowledge.Store using pgvector.
type PostgresStore struct {
	db *gorm.DB
}

// NoteModel is one stored note.
type NoteModel struct {
	ID        string `gorm:"primaryKey"`
	Text      string
	Tags      []byte `gorm:"type:jsonb"`
	Embedding pgvector.Vector
	// Score is filled by Search only.
	Score float32 `gorm:"->;-:migration"`
}

// TableName overrides the table name.
func (NoteModel) TableName() string {
	return tableName
}

// New prepares the notes table on a postgres handle. dimensions must match
// the embedder.
func New(db *gorm.DB, dimensions int) (*PostgresStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive")
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id text PRIMARY KEY,
		text text NOT NULL,
		tags jsonb,
		embedding vector(%d) NOT NULL
	)`, tableName, dimensions)
	if err := db.Exec(ddl).Error; err != nil {
		return nil, fmt.Errorf("failed to create notes table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, vectors [][]float32, notes []knowledge.Note) error {
	if len(vectors) != len(notes) {
		return fmt.Errorf("number of vectors and notes must match")
	}

	models := make([]NoteModel, len(notes))
	for i, n := range notes {
		tags, err := json.Marshal(n.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		models[i] = NoteModel{
			ID:        n.ID,
			Text:      n.Text,
			Tags:      tags,
			Embedding: pgvector.NewVector(vectors[i]),
		}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "tags", "embedding"}),
	}).Omit("Score").Create(&models).Error
}

func (s *PostgresStore) Search(ctx context.Context, query []float32, limit int) ([]knowledge.Note, error) {
	var models []NoteModel
	vec := pgvector.NewVector(query)

	// <=> is cosine distance; similarity is 1 - distance.
	err := s.db.WithContext(ctx).
		Model(&NoteModel{}).
		Select("id, text, tags, 1 - (embedding <=> ?) AS score", vec).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notes := make([]knowledge.Note, len(models))
	for i, m := range models {
		var tags []string
		if len(m.Tags) > 0 {
			if err := json.Unmarshal(m.Tags, &tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags for note %s: %w", m.ID, err)
			}
		}
		notes[i] = knowledge.Note{ID: m.ID, Text: m.Text, Tags: tags, Score: m.Score}
	}

	return notes, nil
}
