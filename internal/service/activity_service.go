package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ActivityService is the append-only audit log. It assigns creation
// timestamps and a process-monotonic sequence so records with identical
// timestamps still have a total order. It is best-effort relative to live
// state: a failed append loses the record from the log but never blocks the
// registry update or broadcast that triggered it.
type ActivityService struct {
	repo repository.ActivityRepository
	seq  atomic.Uint64
}

func NewActivityService(repo repository.ActivityRepository) *ActivityService {
	return &ActivityService{repo: repo}
}

func (s *ActivityService) Append(ctx context.Context, deviceID string, activityType domain.ActivityType, details interface{}) (*domain.Activity, error) {
	var raw json.RawMessage
	if details != nil {
		bytes, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal activity details: %w", err)
		}
		raw = bytes
	}

	activity := &domain.Activity{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Type:      activityType,
		Details:   raw,
		CreatedAt: time.Now(),
		Seq:       s.seq.Add(1),
	}

	if err := s.repo.Append(ctx, activity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return activity, nil
}

// Query returns records strictly older than the cursor in
// reverse-chronological order. Keyset pagination on (created_at, seq) keeps
// pages stable under concurrent appends: a record appended mid-pagination
// can neither repeat an already-returned record nor displace a pending one.
func (s *ActivityService) Query(ctx context.Context, deviceID string, cursor *domain.ActivityCursor, limit int) (*domain.ActivityPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	activities, err := s.repo.Query(ctx, deviceID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	total, err := s.repo.Count(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	page := &domain.ActivityPage{
		Activities: activities,
		Total:      total,
	}

	if len(activities) == limit {
		last := activities[len(activities)-1]
		page.NextCursor = &domain.ActivityCursor{
			CreatedAt: last.CreatedAt,
			Seq:       last.Seq,
		}
	}

	return page, nil
}

// Recent returns the n most recent records for one device.
func (s *ActivityService) Recent(ctx context.Context, deviceID string, n int) ([]*domain.Activity, error) {
	activities, err := s.repo.Query(ctx, deviceID, nil, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return activities, nil
}
