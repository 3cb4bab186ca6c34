package chat

import "support-chat/internal/models"

// BuildViews joins threads with their latest messages, the other
// participant's profile and presence. It keeps the order of threads and
// never mutates its inputs. A nil online func reports everyone offline.
func BuildViews(userID string, threads []models.Thread, latest map[string]models.Message, profiles map[string]models.Profile, online func(string) bool) []models.ChatView {
	views := make([]models.ChatView, 0, len(threads))
	for _, t := range threads {
		otherID := t.OtherParticipant(userID)

		view := models.ChatView{Thread: t}
		if msg, ok := latest[t.ID]; ok {
			m := msg
			view.LastMessage = &m
		}
		if p, ok := profiles[otherID]; ok {
			view.Other = p
		} else {
			view.Other = models.UnknownProfile(otherID)
		}
		if online != nil {
			view.Online = online(otherID)
		}
		views = append(views, view)
	}
	return views
}

func otherParticipantIDs(userID string, threads []models.Thread) []string {
	ids := make([]string, 0, len(threads))
	seen := make(map[string]struct{}, len(threads))
	for _, t := range threads {
		id := t.OtherParticipant(userID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func threadIDs(threads []models.Thread) []string {
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	return ids
}
