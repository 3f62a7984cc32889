package events

import (
	"context"
	"testing"
	"time"
)

var base = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func minute(m int) time.Time {
	return base.Add(time.Duration(m) * time.Minute)
}

func TestGroupByUser(t *testing.T) {
	groups := GroupByUser([]Event{
		{UserID: 2, Timestamp: minute(1)},
		{UserID: 1, Timestamp: minute(1)},
		{UserID: 1, Timestamp: minute(2)},
		{UserID: 2, Timestamp: minute(3)},
	})

	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if groups[0].UserID != 1 || groups[1].UserID != 2 {
		t.Fatalf("Expected groups ordered by user id, got %d, %d", groups[0].UserID, groups[1].UserID)
	}
	if len(groups[0].Timestamps) != 2 || len(groups[1].Timestamps) != 2 {
		t.Errorf("Expected 2 events per user, got %d and %d", len(groups[0].Timestamps), len(groups[1].Timestamps))
	}
}

func TestMemorySource_Read(t *testing.T) {
	src := NewMemorySource(
		Event{UserID: 1, Timestamp: minute(0)},
		Event{UserID: 1, Timestamp: minute(10)},
		Event{UserID: 2, Timestamp: minute(5)},
		Event{UserID: 3, Timestamp: minute(6)},
	)

	tests := []struct {
		name     string
		query    Query
		expected int
	}{
		{name: "half-open range", query: Query{Start: minute(0), End: minute(10)}, expected: 3},
		{name: "include users", query: Query{Start: minute(0), End: minute(11), UserIDs: []int64{1}}, expected: 2},
		{name: "exclude users", query: Query{Start: minute(0), End: minute(11), UserIDs: []int64{1}, Exclude: true}, expected: 2},
		{name: "exclude nobody", query: Query{Start: minute(0), End: minute(11), Exclude: true}, expected: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := src.Read(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if len(got) != tt.expected {
				t.Errorf("Expected %d events, got %d", tt.expected, len(got))
			}
		})
	}

	if len(src.Reads()) != len(tests) {
		t.Errorf("Expected %d recorded reads, got %d", len(tests), len(src.Reads()))
	}
}

func TestMemorySource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMemorySource().Read(ctx, Query{Start: minute(0), End: minute(1)}); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestRateLimitedSource_PassesThrough(t *testing.T) {
	src := NewRateLimitedSource(NewMemorySource(Event{UserID: 1, Timestamp: minute(1)}), 0, 1)

	got, err := src.Read(context.Background(), Query{Start: minute(0), End: minute(2)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 event, got %d", len(got))
	}
}
