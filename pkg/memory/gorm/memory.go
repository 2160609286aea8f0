package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory/consts"
	"gorm.io/gorm"
)

// Memory stores transcripts in a SQL table through gorm. It works with every
// dialect pkg/database opens.
type Memory struct {
	db *gorm.DB
}

// MessageModel is one stored turn. The autoincrement ID fixes append order.
type MessageModel struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:64;index"`
	Role      string    `gorm:"size:16"`
	Content   string    `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName overrides the table name.
func (MessageModel) TableName() string {
	return consts.TableNameMessages
}

// New migrates the transcript table and returns the store.
func New(db *gorm.DB) (*Memory, error) {
	if err := db.AutoMigrate(&MessageModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Memory{db: db}, nil
}

// Append inserts msgs in one transaction.
func (m *Memory) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	models := make([]MessageModel, len(msgs))
	for i, msg := range msgs {
		created := msg.Time
		if created.IsZero() {
			created = time.Now().UTC()
		}
		models[i] = MessageModel{
			SessionID: sessionID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: created,
		}
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One insert per row keeps the generated IDs in slice order on
		// every dialect.
		for i := range models {
			if err := tx.Create(&models[i]).Error; err != nil {
				return fmt.Errorf("failed to append message %d: %w", i, err)
			}
		}
		return nil
	})
}

// Load loads messages from the database.
func (m *Memory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var models []MessageModel
	if err := m.db.WithContext(ctx).Where(consts.ColSessionID+" = ?", sessionID).Order("id asc").Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]llm.Message, len(models))
	for i, model := range models {
		messages[i] = llm.Message{
			Role:    llm.Role(model.Role),
			Content: model.Content,
			Time:    model.CreatedAt,
		}
	}

	return messages, nil
}

// Clear deletes the session rows.
func (m *Memory) Clear(ctx context.Context, sessionID string) error {
	return m.db.WithContext(ctx).Where(consts.ColSessionID+" = ?", sessionID).Delete(&MessageModel{}).Error
}
