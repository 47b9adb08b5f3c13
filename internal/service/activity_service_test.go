package service

import (
	"context"
	"errors"
	"testing"

	"hydra-fleet-server/internal/domain"
)

func TestActivityService_SequenceIsMonotonic(t *testing.T) {
	activities := NewActivityService(newMockActivityRepo())

	var last uint64
	for i := 0; i < 10; i++ {
		activity, err := activities.Append(context.Background(), "dev-1", domain.ActivityDeviceConnected, nil)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if activity.Seq <= last {
			t.Fatalf("seq %d not greater than previous %d", activity.Seq, last)
		}
		last = activity.Seq
	}
}

func TestActivityService_QueryOrdersNewestFirst(t *testing.T) {
	activities := NewActivityService(newMockActivityRepo())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := activities.Append(ctx, "dev-1", domain.ActivityBatteryUpdate, nil); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	page, err := activities.Query(ctx, "dev-1", nil, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(page.Activities) != 5 || page.Total != 5 {
		t.Fatalf("page has %d records (total %d), want 5", len(page.Activities), page.Total)
	}
	for i := 1; i < len(page.Activities); i++ {
		prev, cur := page.Activities[i-1], page.Activities[i]
		if cur.CreatedAt.After(prev.CreatedAt) {
			t.Fatalf("records out of order at index %d", i)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.Seq > prev.Seq {
			t.Fatalf("seq tiebreak out of order at index %d", i)
		}
	}
	if page.NextCursor != nil {
		t.Error("partial page must not carry a next cursor")
	}
}

func TestActivityService_PaginationStableUnderConcurrentAppend(t *testing.T) {
	activities := NewActivityService(newMockActivityRepo())
	ctx := context.Background()

	var appended []*domain.Activity
	for i := 0; i < 6; i++ {
		activity, err := activities.Append(ctx, "dev-1", domain.ActivityBatteryUpdate, nil)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		appended = append(appended, activity)
	}

	page1, err := activities.Query(ctx, "dev-1", nil, 3)
	if err != nil {
		t.Fatalf("Query(page1) error = %v", err)
	}
	if len(page1.Activities) != 3 {
		t.Fatalf("page1 has %d records, want 3", len(page1.Activities))
	}
	if page1.NextCursor == nil {
		t.Fatal("full page must carry a next cursor")
	}

	// A record arrives between the two page fetches. It is newer than the
	// cursor, so it must affect neither page 2's contents nor its order.
	if _, err := activities.Append(ctx, "dev-1", domain.ActivityDeviceConnected, nil); err != nil {
		t.Fatalf("Append(mid-pagination) error = %v", err)
	}

	page2, err := activities.Query(ctx, "dev-1", page1.NextCursor, 3)
	if err != nil {
		t.Fatalf("Query(page2) error = %v", err)
	}
	if len(page2.Activities) != 3 {
		t.Fatalf("page2 has %d records, want 3", len(page2.Activities))
	}

	seen := make(map[string]bool)
	for _, a := range page1.Activities {
		seen[a.ID] = true
	}
	for _, a := range page2.Activities {
		if seen[a.ID] {
			t.Errorf("record %s repeated across pages", a.ID)
		}
		seen[a.ID] = true
	}

	// Every record that existed before pagination started must appear.
	for _, a := range appended {
		if !seen[a.ID] {
			t.Errorf("record %s (seq %d) skipped by pagination", a.ID, a.Seq)
		}
	}
}

func TestActivityService_QueryClampsPageSize(t *testing.T) {
	repo := newMockActivityRepo()
	activities := NewActivityService(repo)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := activities.Append(ctx, "dev-1", domain.ActivityBatteryUpdate, nil); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	page, err := activities.Query(ctx, "dev-1", nil, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(page.Activities) != defaultPageSize {
		t.Errorf("limit 0 must fall back to default page size, got %d", len(page.Activities))
	}
}

func TestActivityService_AppendFailureIsStoreUnavailable(t *testing.T) {
	repo := newMockActivityRepo()
	repo.failAppend = true
	activities := NewActivityService(repo)

	_, err := activities.Append(context.Background(), "dev-1", domain.ActivityDeviceConnected, nil)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}
