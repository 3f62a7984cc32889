// Package events reads raw user activity events.
package events

import (
	"context"
	"sort"
	"time"
)

// Event is one activity ping
type Event struct {
	UserID    int64
	Timestamp time.Time
}

// Query selects events in [Start, End).
// With Exclude set, UserIDs lists the users to leave out; otherwise, when non-empty,
// it lists the only users to include.
type Query struct {
	Start   time.Time
	End     time.Time
	UserIDs []int64
	Exclude bool
}

// Source supplies events ordered by (user_id, timestamp)
type Source interface {
	Read(ctx context.Context, q Query) ([]Event, error)
}

// UserEvents is one user's slice of a read
type UserEvents struct {
	UserID     int64
	Timestamps []time.Time
}

// GroupByUser splits an ordered read into per-user timestamp lists.
// The result is ordered by user id regardless of the input order.
func GroupByUser(events []Event) []UserEvents {
	index := make(map[int64]int)
	var groups []UserEvents
	for _, e := range events {
		i, ok := index[e.UserID]
		if !ok {
			i = len(groups)
			index[e.UserID] = i
			groups = append(groups, UserEvents{UserID: e.UserID})
		}
		groups[i].Timestamps = append(groups[i].Timestamps, e.Timestamp)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].UserID < groups[j].UserID })
	return groups
}

func (q Query) matchesUser(userID int64) bool {
	if len(q.UserIDs) == 0 {
		return true
	}
	listed := false
	for _, id := range q.UserIDs {
		if id == userID {
			listed = true
			break
		}
	}
	return listed != q.Exclude
}
