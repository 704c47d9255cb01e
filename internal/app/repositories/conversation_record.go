package repositories

import (
	"gorm.io/gorm"

	"dify-chat-agent/internal/app/models"
)

type ConversationRecordRepository struct {
	db *gorm.DB
}

func NewConversationRecordRepository(db *gorm.DB) *ConversationRecordRepository {
	return &ConversationRecordRepository{db: db}
}

// AppendTurns 在会话末尾追加消息，序号接着已有的最大序号
func (r *ConversationRecordRepository) AppendTurns(sessionID, conversationID string, turns []models.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.ConversationRecord{}).
			Where("session_id = ?", sessionID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}

		records := make([]models.ConversationRecord, 0, len(turns))
		for i, turn := range turns {
			record := models.ConversationRecord{
				SessionID:      sessionID,
				ConversationID: conversationID,
				MessageID:      turn.ID,
				Seq:            maxSeq + i + 1,
				Role:           turn.Role,
				Content:        turn.Content,
			}
			if err := record.Validate(); err != nil {
				return err
			}
			records = append(records, record)
		}
		return tx.CreateInBatches(records, 100).Error
	})
}

// ListBySession 按序号返回会话内的消息
func (r *ConversationRecordRepository) ListBySession(sessionID string, limit, offset int) ([]models.ConversationRecord, error) {
	var records []models.ConversationRecord
	db := r.db.Where("session_id = ?", sessionID).Order("seq ASC")
	if limit > 0 {
		db = db.Limit(limit).Offset(offset)
	}
	err := db.Find(&records).Error
	return records, err
}

// ListByConversation 后端会话ID下的所有消息，跨中继会话
func (r *ConversationRecordRepository) ListByConversation(conversationID string, limit, offset int) ([]models.ConversationRecord, error) {
	var records []models.ConversationRecord
	db := r.db.Where("conversation_id = ?", conversationID).Order("id ASC")
	if limit > 0 {
		db = db.Limit(limit).Offset(offset)
	}
	err := db.Find(&records).Error
	return records, err
}

// UpdateRating 更新消息反馈，rating 为空表示撤销
func (r *ConversationRecordRepository) UpdateRating(messageID string, rating models.Rating) error {
	return r.db.Model(&models.ConversationRecord{}).
		Where("message_id = ?", messageID).
		Update("rating", string(rating)).Error
}
