package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateJob enqueues a delivery job for an outbound message. Idempotent: a
// second call for the same message id returns the existing job unchanged,
// whatever state it has reached.
func (s *Store) CreateJob(ctx context.Context, messageID uint) (*DeliveryJob, error) {
	if messageID == 0 {
		return nil, fmt.Errorf("message id is required")
	}
	now := time.Now().UTC()
	job := DeliveryJob{
		ID:            uuid.NewString(),
		MessageID:     messageID,
		Status:        JobQueued,
		NextAttemptAt: now,
	}
	err := withBusyRetry(func() error {
		return s.db.WithContext(ctx).Create(&job).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing DeliveryJob
		if lookupErr := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&existing).Error; lookupErr != nil {
			return nil, fmt.Errorf("lookup existing job: %w", lookupErr)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create delivery job: %w", err)
	}
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*DeliveryJob, error) {
	var job DeliveryJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ClaimJob moves a queued job to sending. The guarded update makes claims
// race-safe: only one worker wins, the others see ErrInvalidTransition.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (*DeliveryJob, error) {
	var claimed bool
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("id = ? AND status = ?", jobID, JobQueued).
			Updates(map[string]any{"status": JobSending, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		return nil, ErrInvalidTransition
	}
	return s.GetJob(ctx, jobID)
}

// MarkJobSent finishes a sending job. Terminal: a sent job never re-executes.
func (s *Store) MarkJobSent(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, JobSending, JobSent, "")
}

// RequeueJob returns a sending job to queued after a retryable failure,
// recording the attempt and the time of the next one.
func (s *Store) RequeueJob(ctx context.Context, jobID string, lastError string, nextAttemptAt time.Time) error {
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("id = ? AND status = ?", jobID, JobSending).
			Updates(map[string]any{
				"status":          JobQueued,
				"attempt_count":   gorm.Expr("attempt_count + 1"),
				"last_error":      truncateError(lastError),
				"next_attempt_at": nextAttemptAt.UTC(),
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("requeue job %s: %w", jobID, err)
	}
	return err
}

// ReleaseJob hands a sending job back to queued without counting an attempt.
// For workers that give a claim up before any send happens, such as a
// shutdown while waiting for a rate limiter token.
func (s *Store) ReleaseJob(ctx context.Context, jobID string, lastError string) error {
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("id = ? AND status = ?", jobID, JobSending).
			Updates(map[string]any{
				"status":          JobQueued,
				"last_error":      truncateError(lastError),
				"next_attempt_at": time.Now().UTC(),
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("release job %s: %w", jobID, err)
	}
	return err
}

// FailJob terminally fails a job from either queued or sending.
func (s *Store) FailJob(ctx context.Context, jobID string, lastError string) error {
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("id = ? AND status IN ?", jobID, []JobStatus{JobQueued, JobSending}).
			Updates(map[string]any{
				"status":        JobFailed,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"last_error":    truncateError(lastError),
				"updated_at":    time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return err
}

// CancelJob terminally fails a queued job on administrative request. Jobs
// already sending cannot be cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("id = ? AND status = ?", jobID, JobQueued).
			Updates(map[string]any{
				"status":     JobFailed,
				"last_error": "cancelled",
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return err
}

// DueJobs lists queued jobs whose backoff window has elapsed.
func (s *Store) DueJobs(ctx context.Context, limit int) ([]DeliveryJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []DeliveryJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", JobQueued, time.Now().UTC()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	return jobs, nil
}

// RequeueStaleSending returns sending jobs untouched for longer than lease to
// queued. Covers crash-and-resume: a worker that died mid-send loses its
// claim and delivery is retried.
func (s *Store) RequeueStaleSending(ctx context.Context, lease time.Duration) (int64, error) {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-lease)
	var affected int64
	err := withBusyRetry(func() error {
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("status = ? AND updated_at < ?", JobSending, cutoff).
			Updates(map[string]any{
				"status":          JobQueued,
				"next_attempt_at": time.Now().UTC(),
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue stale sending jobs: %w", err)
	}
	return affected, nil
}

func (s *Store) transition(ctx context.Context, jobID string, from, to JobStatus, lastError string) error {
	err := withBusyRetry(func() error {
		updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
		if lastError != "" {
			updates["last_error"] = truncateError(lastError)
		}
		res := s.db.WithContext(ctx).Model(&DeliveryJob{}).
			Where("id = ? AND status = ?", jobID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return fmt.Errorf("job %s %s->%s: %w", jobID, from, to, err)
	}
	return err
}

func truncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	const max = 2000
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
