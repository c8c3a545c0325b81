package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ReserveInbound atomically inserts the inbound message, reserving its
// deduplication key. A second delivery of the same (platform,
// platform_message_id) pair observes the unique index and gets
// ErrDuplicateEvent, so at most one caller ever proceeds past admission.
func (s *Store) ReserveInbound(ctx context.Context, conversationID uint, platform Platform, platformMessageID, content string, sentAt time.Time) (*Message, error) {
	platformMessageID = strings.TrimSpace(platformMessageID)
	if platformMessageID == "" {
		return nil, fmt.Errorf("platform message id is required")
	}
	if conversationID == 0 {
		return nil, fmt.Errorf("conversation id is required")
	}
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	msg := Message{
		ConversationID:    conversationID,
		Platform:          platform,
		PlatformMessageID: &platformMessageID,
		Direction:         DirectionInbound,
		Content:           content,
		CreatedAt:         sentAt,
	}
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).Create(&msg).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateEvent
	}
	if err != nil {
		return nil, fmt.Errorf("reserve inbound message: %w", err)
	}
	return &msg, nil
}

// AppendOutbound appends the reply produced by a workflow run. Outbound
// messages carry no platform message id.
func (s *Store) AppendOutbound(ctx context.Context, conversationID uint, platform Platform, content string, intent Intent, sentiment *float64, responseTimeMs int64) (*Message, error) {
	if conversationID == 0 {
		return nil, fmt.Errorf("conversation id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	msg := Message{
		ConversationID: conversationID,
		Platform:       platform,
		Direction:      DirectionOutbound,
		Content:        content,
		SentimentScore: sentiment,
		CreatedAt:      time.Now().UTC(),
	}
	if intent.Valid() {
		msg.Intent = &intent
	}
	if responseTimeMs >= 0 {
		msg.ResponseTimeMs = &responseTimeMs
	}
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).Create(&msg).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append outbound message: %w", err)
	}
	return &msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id uint) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// RecentMessages returns up to limit of the conversation's most recent
// messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// AnnotateInbound records the classification outcome on an inbound message.
// Content is never touched; messages are append-only for everything else.
func (s *Store) AnnotateInbound(ctx context.Context, messageID uint, intent Intent, sentiment float64) error {
	updates := map[string]any{"sentiment_score": sentiment}
	if intent.Valid() {
		updates["intent"] = intent
	}
	var affected int64
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&Message{}).
			Where("id = ? AND direction = ?", messageID, DirectionInbound).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("annotate inbound message %d: %w", messageID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// OverrideMessageContent replaces the text of an outbound message before
// delivery. Inbound messages are immutable and cannot be overridden.
func (s *Store) OverrideMessageContent(ctx context.Context, messageID uint, newContent string) error {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return fmt.Errorf("new content is required")
	}
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND direction = ?", messageID, DirectionOutbound).
		Update("content", newContent)
	if res.Error != nil {
		return fmt.Errorf("override message %d: %w", messageID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
