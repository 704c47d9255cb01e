package models

import (
	"fmt"
	"time"
)

// ConversationRecord 持久化的对话消息
type ConversationRecord struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement;comment:主键" json:"id"`
	SessionID      string    `gorm:"size:100;not null;index;comment:中继会话ID" json:"session_id"`
	ConversationID string    `gorm:"size:100;index;comment:后端会话ID" json:"conversation_id"`
	MessageID      string    `gorm:"size:100;index;comment:后端消息ID" json:"message_id"`
	Seq            int       `gorm:"not null;comment:会话内序号" json:"seq"`
	Role           Role      `gorm:"size:20;not null;comment:角色：user/assistant" json:"role"`
	Content        string    `gorm:"type:longtext;comment:消息内容" json:"content"`
	Rating         string    `gorm:"size:20;comment:反馈：like/dislike，空表示无" json:"rating"`
	CreatedAt      time.Time `gorm:"type:datetime;not null;default:CURRENT_TIMESTAMP;comment:记录创建时间" json:"created_at"`
	UpdatedAt      time.Time `gorm:"type:datetime;not null;default:CURRENT_TIMESTAMP;comment:最后更新时间" json:"updated_at"`
}

// TableName 指定表名
func (ConversationRecord) TableName() string {
	return "conversation_record"
}

// Validate 验证模型数据
func (r *ConversationRecord) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("会话ID不能为空")
	}
	if r.Role != RoleUser && r.Role != RoleAssistant {
		return fmt.Errorf("无效的角色: %s", r.Role)
	}
	return nil
}

// ToTurn 转换为内存中的对话记录
func (r *ConversationRecord) ToTurn() ConversationTurn {
	return ConversationTurn{Role: r.Role, Content: r.Content, ID: r.MessageID}
}
