package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory/consts"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jMemory links Message nodes to a Session node. A seq property fixes
// the append order.
type Neo4jMemory struct {
	driver neo4j.DriverWithContext
	dbName string
}

// New connects and verifies connectivity.
func New(ctx context.Context, uri, username, password, dbName string) (*Neo4jMemory, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}

	return &Neo4jMemory{
		driver: driver,
		dbName: dbName,
	}, nil
}

// Append writes every message in one transaction.
func (m *Neo4jMemory) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	batch := make([]any, len(msgs))
	for i, msg := range msgs {
		batch[i] = map[string]any{
			consts.ColRole:      string(msg.Role),
			consts.ColContent:   msg.Content,
			consts.ColCreatedAt: msg.Time.UTC().Format(time.RFC3339Nano),
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MERGE (s:%[1]s {id: $sessionID})
		WITH s
		OPTIONAL MATCH (s)-[:%[2]s]->(existing:%[3]s)
		WITH s, count(existing) AS offset
		UNWIND range(0, size($batch) - 1) AS i
		CREATE (s)-[:%[2]s]->(:%[3]s {
			%[4]s: offset + i,
			%[5]s: $batch[i].%[5]s,
			%[6]s: $batch[i].%[6]s,
			%[7]s: $batch[i].%[7]s
		})
		`, consts.LabelSession, consts.RelHasMessage, consts.LabelMessage,
			consts.ColSeq, consts.ColRole, consts.ColContent, consts.ColCreatedAt)

		_, err := tx.Run(ctx, query, map[string]any{"sessionID": sessionID, "batch": batch})
		return nil, err
	})

	return err
}

func (m *Neo4jMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
		MATCH (s:%s {id: $sessionID})-[:%s]->(m:%s)
		RETURN m.%s AS role, m.%s AS content, m.%s AS created_at
		ORDER BY m.%s ASC
		`, consts.LabelSession, consts.RelHasMessage, consts.LabelMessage,
			consts.ColRole, consts.ColContent, consts.ColCreatedAt, consts.ColSeq)

		result, err := tx.Run(ctx, query, map[string]any{"sessionID": sessionID})
		if err != nil {
			return nil, err
		}

		var messages []llm.Message
		for result.Next(ctx) {
			record := result.Record()

			role, _, err := neo4j.GetRecordValue[string](record, "role")
			if err != nil {
				return nil, err
			}
			content, _, err := neo4j.GetRecordValue[string](record, "content")
			if err != nil {
				return nil, err
			}
			createdAt, _, err := neo4j.GetRecordValue[string](record, "created_at")
			if err != nil {
				return nil, err
			}
			ts, _ := time.Parse(time.RFC3339Nano, createdAt)

			messages = append(messages, llm.Message{Role: llm.Role(role), Content: content, Time: ts})
		}

		return messages, result.Err()
	})

	if err != nil {
		return nil, err
	}

	messages, _ := result.([]llm.Message)
	return messages, nil
}

func (m *Neo4jMemory) Clear(ctx context.Context, sessionID string) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.dbName})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`MATCH (s:%s {id: $sessionID}) OPTIONAL MATCH (s)-[:%s]->(m:%s) DETACH DELETE s, m`,
			consts.LabelSession, consts.RelHasMessage, consts.LabelMessage)
		_, err := tx.Run(ctx, query, map[string]any{"sessionID": sessionID})
		return nil, err
	})
	return err
}

func (m *Neo4jMemory) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}
