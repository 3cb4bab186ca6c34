// Package presence tracks which users currently hold an open session.
// Presence is ephemeral: entries live as long as the member's channel
// membership and are never persisted.
package presence

import (
	"context"
	"sort"
	"time"
)

// Meta is the state a member publishes about itself.
type Meta struct {
	UserID   string    `json:"user_id"`
	OnlineAt time.Time `json:"online_at"`
}

// Snapshot maps a user id to the metas of all its live memberships.
type Snapshot map[string][]Meta

// Online returns the sorted ids of users with at least one membership.
func (s Snapshot) Online() []string {
	ids := make([]string, 0, len(s))
	for id, metas := range s {
		if len(metas) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Broadcaster hands out memberships of named presence channels.
type Broadcaster interface {
	Join(ctx context.Context, channel string) (Membership, error)
}

// Membership is one participant's handle on a channel. Leave must be
// called when the owner goes away or the entry lingers until it expires.
type Membership interface {
	Track(ctx context.Context, meta Meta) error
	OnChange(fn func(Snapshot)) (cancel func())
	Leave(ctx context.Context) error
}
