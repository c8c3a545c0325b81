package store

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) RecordMetric(ctx context.Context, metricType string, value float64, dimension string) error {
	if metricType == "" {
		return fmt.Errorf("metric type is required")
	}
	row := MetricEvent{
		MetricType:  metricType,
		MetricValue: value,
		Dimension:   dimension,
		RecordedAt:  time.Now().UTC(),
	}
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("record metric %q: %w", metricType, err)
	}
	return nil
}

// MetricsSummary aggregates pipeline outcomes over a window.
type MetricsSummary struct {
	TotalMessages         int64    `json:"total_messages"`
	TotalConversations    int64    `json:"total_conversations"`
	TotalEscalations      int64    `json:"total_escalations"`
	EscalationRatePct     float64  `json:"escalation_rate_pct"`
	AverageResponseTimeMs float64  `json:"average_response_time_ms"`
	AverageSentiment      *float64 `json:"average_sentiment,omitempty"`
}

func (s *Store) Summary(ctx context.Context, since time.Time) (*MetricsSummary, error) {
	var out MetricsSummary
	db := s.db.WithContext(ctx)

	if err := db.Model(&Message{}).Where("created_at >= ?", since).Count(&out.TotalMessages).Error; err != nil {
		return nil, fmt.Errorf("summary messages: %w", err)
	}
	if err := db.Model(&Conversation{}).Where("created_at >= ?", since).Count(&out.TotalConversations).Error; err != nil {
		return nil, fmt.Errorf("summary conversations: %w", err)
	}
	if err := db.Model(&Conversation{}).Where("created_at >= ? AND escalated = ?", since, true).Count(&out.TotalEscalations).Error; err != nil {
		return nil, fmt.Errorf("summary escalations: %w", err)
	}
	if out.TotalConversations > 0 {
		out.EscalationRatePct = float64(out.TotalEscalations) / float64(out.TotalConversations) * 100
	}

	var avgResponse *float64
	if err := db.Model(&Message{}).
		Where("direction = ? AND created_at >= ? AND response_time_ms IS NOT NULL", DirectionOutbound, since).
		Select("AVG(response_time_ms)").Scan(&avgResponse).Error; err != nil {
		return nil, fmt.Errorf("summary response time: %w", err)
	}
	if avgResponse != nil {
		out.AverageResponseTimeMs = *avgResponse
	}

	var avgSentiment *float64
	if err := db.Model(&Message{}).
		Where("created_at >= ? AND sentiment_score IS NOT NULL", since).
		Select("AVG(sentiment_score)").Scan(&avgSentiment).Error; err != nil {
		return nil, fmt.Errorf("summary sentiment: %w", err)
	}
	out.AverageSentiment = avgSentiment

	return &out, nil
}

// IntentCount is one bucket of the intent distribution.
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int64  `json:"count"`
}

func (s *Store) IntentDistribution(ctx context.Context, since time.Time) ([]IntentCount, error) {
	var rows []IntentCount
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("intent IS NOT NULL AND created_at >= ?", since).
		Select("intent, COUNT(id) AS count").
		Group("intent").
		Order("count DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("intent distribution: %w", err)
	}
	return rows, nil
}
