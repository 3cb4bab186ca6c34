package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

// memStore is an in-memory stand-in for the three repositories.
type memStore struct {
	mu       sync.Mutex
	threads  []models.Thread
	messages []models.Message
	profiles map[string]models.Profile
	clock    time.Time
	seq      int
}

func newMemStore(profiles ...models.Profile) *memStore {
	s := &memStore{
		profiles: map[string]models.Profile{},
		clock:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *memStore) ListThreadsForUser(_ context.Context, userID string) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Thread{}
	for _, t := range s.threads {
		if t.HasParticipant(userID) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *memStore) ListThreadIDsForUser(ctx context.Context, userID string) ([]string, error) {
	threads, _ := s.ListThreadsForUser(ctx, userID)
	return threadIDs(threads), nil
}

func (s *memStore) FindThreadBetween(_ context.Context, a, b string) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.HasParticipant(a) && t.HasParticipant(b) {
			return t, nil
		}
	}
	return models.Thread{}, repositories.ErrThreadNotFound
}

func (s *memStore) CreateThread(_ context.Context, primaryID, counterpartyID string) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	t := models.Thread{ID: s.nextID("t"), PrimaryID: primaryID, CounterpartyID: counterpartyID, LastMessageAt: now, CreatedAt: now}
	s.threads = append(s.threads, t)
	return t, nil
}

func (s *memStore) GetThread(_ context.Context, threadID string) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.ID == threadID {
			return t, nil
		}
	}
	return models.Thread{}, repositories.ErrThreadNotFound
}

func (s *memStore) TouchThread(_ context.Context, threadID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.threads {
		if s.threads[i].ID == threadID {
			s.threads[i].LastMessageAt = at
			return nil
		}
	}
	return repositories.ErrThreadNotFound
}

func (s *memStore) ListMessages(_ context.Context, threadID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) CreateMessage(_ context.Context, msg models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := models.Message{ID: s.nextID("m"), ThreadID: msg.ThreadID, SenderID: msg.SenderID, Content: msg.Content, CreatedAt: s.tick()}
	if a := msg.Attachment; a != nil {
		url, mime, name, size := a.URL, a.MimeType, a.Name, a.Size
		m.AttachmentURL, m.AttachmentMimeType, m.AttachmentName, m.AttachmentSize = &url, &mime, &name, &size
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *memStore) LatestMessages(_ context.Context, ids []string) (map[string]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	latest := map[string]models.Message{}
	for _, m := range s.messages {
		if !want[m.ThreadID] {
			continue
		}
		if cur, ok := latest[m.ThreadID]; !ok || !m.CreatedAt.Before(cur.CreatedAt) {
			latest[m.ThreadID] = m
		}
	}
	return latest, nil
}

func (s *memStore) MarkThreadRead(_ context.Context, threadID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ThreadID == threadID && m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountUnread(_ context.Context, ids []string, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	count := 0
	for _, m := range s.messages {
		if want[m.ThreadID] && m.SenderID != userID && !m.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ResolveProfiles(_ context.Context, ids []string) (map[string]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]models.Profile{}
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
