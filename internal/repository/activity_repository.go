package repository

import (
	"context"
	"fmt"

	"hydra-fleet-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ActivityRepository is the append-only audit store. Records are never
// updated or deleted. Queries are keyset-paginated on the strictly
// decreasing (created_at, seq) pair so that concurrent appends can neither
// repeat nor skip records across pages.
type ActivityRepository interface {
	Append(ctx context.Context, activity *domain.Activity) error
	Query(ctx context.Context, deviceID string, cursor *domain.ActivityCursor, limit int) ([]*domain.Activity, error)
	Count(ctx context.Context, deviceID string) (int, error)
}

type activityRepository struct {
	client *kivik.Client
	dbName string
}

func NewActivityRepository(client *kivik.Client, dbName string) ActivityRepository {
	return &activityRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *activityRepository) Append(ctx context.Context, activity *domain.Activity) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("activity:%s", activity.ID)
	if _, err := db.Put(ctx, docID, activity); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	return nil
}

func (r *activityRepository) selector(deviceID string, cursor *domain.ActivityCursor) map[string]interface{} {
	selector := map[string]interface{}{
		"seq": map[string]interface{}{"$exists": true},
	}

	if deviceID != "" {
		selector["device_id"] = deviceID
	}

	if cursor != nil {
		selector["$or"] = []map[string]interface{}{
			{"created_at": map[string]interface{}{"$lt": cursor.CreatedAt}},
			{
				"created_at": cursor.CreatedAt,
				"seq":        map[string]interface{}{"$lt": cursor.Seq},
			},
		}
	}

	return selector
}

func (r *activityRepository) Query(ctx context.Context, deviceID string, cursor *domain.ActivityCursor, limit int) ([]*domain.Activity, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": r.selector(deviceID, cursor),
		"sort": []map[string]string{
			{"created_at": "desc"},
			{"seq": "desc"},
		},
		"limit": limit,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []*domain.Activity
	for rows.Next() {
		var activity domain.Activity
		if err := rows.ScanDoc(&activity); err != nil {
			continue // Skip malformed docs
		}
		activities = append(activities, &activity)
	}

	return activities, nil
}

func (r *activityRepository) Count(ctx context.Context, deviceID string) (int, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": r.selector(deviceID, nil),
		"fields":   []string{"_id"},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}

	return count, nil
}
