package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/models"
)

func TestBuildViews(t *testing.T) {
	now := time.Now()
	threads := []models.Thread{
		{ID: "t1", PrimaryID: "me", CounterpartyID: "c1", LastMessageAt: now},
		{ID: "t2", PrimaryID: "c2", CounterpartyID: "me", LastMessageAt: now.Add(-time.Hour)},
	}
	latest := map[string]models.Message{"t1": {ID: "m1", ThreadID: "t1", Content: "hey"}}
	profiles := map[string]models.Profile{"c1": {ID: "c1", Name: "Cleo"}}

	views := BuildViews("me", threads, latest, profiles, func(id string) bool { return id == "c2" })
	require.Len(t, views, 2)

	assert.Equal(t, "t1", views[0].Thread.ID)
	assert.Equal(t, "Cleo", views[0].Other.Name)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "m1", views[0].LastMessage.ID)
	assert.False(t, views[0].Online)

	assert.Equal(t, "t2", views[1].Thread.ID)
	assert.Equal(t, models.UnknownProfile("c2"), views[1].Other)
	assert.Nil(t, views[1].LastMessage)
	assert.True(t, views[1].Online)

	// inputs stay untouched
	assert.Len(t, latest, 1)
	assert.Len(t, profiles, 1)
}

func TestBuildViewsEmpty(t *testing.T) {
	views := BuildViews("me", nil, nil, nil, nil)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}

func TestOtherParticipantIDsDeduped(t *testing.T) {
	threads := []models.Thread{
		{ID: "t1", PrimaryID: "me", CounterpartyID: "c1"},
		{ID: "t2", PrimaryID: "c1", CounterpartyID: "me"},
		{ID: "t3", PrimaryID: "me", CounterpartyID: "c2"},
	}
	assert.Equal(t, []string{"c1", "c2"}, otherParticipantIDs("me", threads))
	assert.Equal(t, []string{"t1", "t2", "t3"}, threadIDs(threads))
}
