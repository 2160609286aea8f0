package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/barekit/tabletalk/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadText = "text"
	payloadTags = "tags"
	payloadID   = "note_id"
)

// QdrantStore implements knowledge.Store using Qdrant.
type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
}

// Config locates the collection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	VectorSize uint64
}

// New connects and creates the collection when missing.
func New(ctx context.Context, cfg Config) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	store := &QdrantStore{
		client:         client,
		collectionName: cfg.Collection,
		vectorSize:     cfg.VectorSize,
	}

	if err := store.initCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

func (s *QdrantStore) initCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return nil
}

// pointID maps a note ID to the UUID qdrant requires.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return knowledge.NoteID(id)
}

func (s *QdrantStore) Upsert(ctx context.Context, vectors [][]float32, notes []knowledge.Note) error {
	if len(vectors) != len(notes) {
		return fmt.Errorf("number of vectors and notes must match")
	}

	points := make([]*qdrant.PointStruct, len(vectors))
	for i, n := range notes {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(n.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				payloadID:   qdrant.NewValueString(n.ID),
				payloadText: qdrant.NewValueString(n.Text),
				payloadTags: qdrant.NewValueString(strings.Join(n.Tags, ",")),
			},
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
		Wait:           &wait,
	})
	return err
}

func (s *QdrantStore) Search(ctx context.Context, query []float32, limit int) ([]knowledge.Note, error) {
	limit64 := uint64(limit)
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	notes := make([]knowledge.Note, len(res))
	for i, hit := range res {
		n := knowledge.Note{ID: hit.Id.GetUuid(), Score: hit.Score}
		if v, ok := hit.Payload[payloadID]; ok && v.GetStringValue() != "" {
			n.ID = v.GetStringValue()
		}
		if v, ok := hit.Payload[payloadText]; ok {
			n.Text = v.GetStringValue()
		}
		if v, ok := hit.Payload[payloadTags]; ok && v.GetStringValue() != "" {
			n.Tags = strings.Split(v.GetStringValue(), ",")
		}
		notes[i] = n
	}

	return notes, nil
}

// Close closes the client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
