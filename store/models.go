package store

import "time"

type Platform string

const (
	PlatformTikTok   Platform = "tiktok"
	PlatformLinkedIn Platform = "linkedin"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformTikTok, PlatformLinkedIn:
		return true
	default:
		return false
	}
}

type ConversationStatus string

const (
	StatusActive    ConversationStatus = "active"
	StatusEscalated ConversationStatus = "escalated"
	StatusClosed    ConversationStatus = "closed"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Intent string

const (
	IntentSupport Intent = "support"
	IntentSales   Intent = "sales"
	IntentGeneral Intent = "general"
	IntentUrgent  Intent = "urgent"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentSupport, IntentSales, IntentGeneral, IntentUrgent:
		return true
	default:
		return false
	}
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobSending JobStatus = "sending"
	JobSent    JobStatus = "sent"
	JobFailed  JobStatus = "failed"
)

// User is a platform-scoped identity. Identity fields are immutable after
// creation; only display fields may be updated.
type User struct {
	ID             uint     `gorm:"primaryKey"`
	Platform       Platform `gorm:"size:32;not null;uniqueIndex:idx_users_platform_uid"`
	PlatformUserID string   `gorm:"size:255;not null;uniqueIndex:idx_users_platform_uid"`
	Username       string   `gorm:"size:255"`
	DisplayName    string   `gorm:"size:255"`
	ProfileURL     string   `gorm:"size:1024"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Conversation struct {
	ID                     uint     `gorm:"primaryKey"`
	UserID                 uint     `gorm:"not null;index"`
	Platform               Platform `gorm:"size:32;not null;uniqueIndex:idx_convs_platform_cid"`
	PlatformConversationID string   `gorm:"size:255;not null;uniqueIndex:idx_convs_platform_cid"`
	Status                 ConversationStatus `gorm:"size:16;not null;default:active"`
	Escalated              bool               `gorm:"not null;default:false"`
	EscalationReason       string             `gorm:"type:text"`
	Priority               Priority           `gorm:"size:16;not null;default:normal"`
	AssignedTo             string             `gorm:"size:255"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ClosedAt               *time.Time
}

// Message rows are append-only. PlatformMessageID is set only on inbound
// messages; together with Platform it forms the deduplication key.
type Message struct {
	ID                uint      `gorm:"primaryKey"`
	ConversationID    uint      `gorm:"not null;index"`
	Platform          Platform  `gorm:"size:32;not null;uniqueIndex:idx_msgs_platform_pmid"`
	PlatformMessageID *string   `gorm:"size:255;uniqueIndex:idx_msgs_platform_pmid"`
	Direction         Direction `gorm:"size:16;not null"`
	Content           string    `gorm:"type:text;not null"`
	Intent            *Intent   `gorm:"size:16"`
	SentimentScore    *float64
	ResponseTimeMs    *int64
	CreatedAt         time.Time `gorm:"index"`
}

type AgentConfig struct {
	ID          uint   `gorm:"primaryKey"`
	ConfigKey   string `gorm:"size:255;not null;uniqueIndex"`
	ConfigValue string `gorm:"type:text;not null"`
	Description string `gorm:"size:512"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeliveryJob tracks asynchronous delivery of one outbound message. Status
// transitions are forward-only: queued -> sending -> sent | queued | failed.
type DeliveryJob struct {
	ID            string    `gorm:"primaryKey;size:64"`
	MessageID     uint      `gorm:"not null;uniqueIndex"`
	Status        JobStatus `gorm:"size:16;not null;default:queued;index"`
	AttemptCount  int       `gorm:"not null;default:0"`
	LastError     string    `gorm:"type:text"`
	NextAttemptAt time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type MetricEvent struct {
	ID          uint    `gorm:"primaryKey"`
	MetricType  string  `gorm:"size:128;not null;index"`
	MetricValue float64 `gorm:"not null"`
	Dimension   string  `gorm:"size:128"`
	RecordedAt  time.Time `gorm:"index"`
}
