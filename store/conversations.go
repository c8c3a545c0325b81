package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// EnsureUser returns the user for (platform, platformUserID), creating it on
// first contact. Display fields are filled on create only.
func (s *Store) EnsureUser(ctx context.Context, platform Platform, platformUserID, username string) (*User, error) {
	if !platform.Valid() {
		return nil, fmt.Errorf("platform is invalid: %s", platform)
	}
	platformUserID = strings.TrimSpace(platformUserID)
	if platformUserID == "" {
		return nil, fmt.Errorf("platform user id is required")
	}

	var user User
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).
			Where(&User{Platform: platform, PlatformUserID: platformUserID}).
			Attrs(&User{Username: username}).
			FirstOrCreate(&user).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a concurrent create; the row exists now.
		err = s.db.WithContext(ctx).
			Where(&User{Platform: platform, PlatformUserID: platformUserID}).
			First(&user).Error
	}
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &user, nil
}

// EnsureConversation returns the conversation for (platform,
// platformConversationID), creating an active one on first contact.
func (s *Store) EnsureConversation(ctx context.Context, userID uint, platform Platform, platformConversationID string) (*Conversation, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id is required")
	}
	platformConversationID = strings.TrimSpace(platformConversationID)
	if platformConversationID == "" {
		return nil, fmt.Errorf("platform conversation id is required")
	}

	var conv Conversation
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).
			Where(&Conversation{Platform: platform, PlatformConversationID: platformConversationID}).
			Attrs(&Conversation{UserID: userID, Status: StatusActive, Priority: PriorityNormal}).
			FirstOrCreate(&conv).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		err = s.db.WithContext(ctx).
			Where(&Conversation{Platform: platform, PlatformConversationID: platformConversationID}).
			First(&conv).Error
	}
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id uint) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// EscalateConversation marks a conversation escalated. Escalation is
// monotonic: the flag is never cleared here, and the first recorded reason
// wins over later ones.
func (s *Store) EscalateConversation(ctx context.Context, id uint, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	err := withBusyRetry(func() error {
		// sqlite serializes writers, so a plain transaction is enough to make
		// the read-modify-write atomic.
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var conv Conversation
			if err := tx.First(&conv, id).Error; err != nil {
				return err
			}
			if conv.Escalated {
				return nil
			}
			updates := map[string]any{
				"escalated":         true,
				"escalation_reason": reason,
				"status":            StatusEscalated,
				"priority":          PriorityHigh,
				"updated_at":        time.Now().UTC(),
			}
			return tx.Model(&Conversation{}).Where("id = ?", id).Updates(updates).Error
		})
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("escalate conversation %d: %w", id, err)
	}
	return nil
}

func (s *Store) CloseConversation(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": StatusClosed, "closed_at": &now, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("close conversation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignConversation records the human agent handling an escalated
// conversation.
func (s *Store) AssignConversation(ctx context.Context, id uint, agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	res := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"assigned_to": agentID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("assign conversation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
