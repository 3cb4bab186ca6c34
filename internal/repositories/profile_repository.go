package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"support-chat/internal/models"
)

// ProfileRepository resolves participant display data.
type ProfileRepository interface {
	ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// ProfileRepo reads the profiles table owned by the account system.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// ResolveProfiles fetches profiles for the given ids. Unknown ids are simply
// missing from the map; only a failed query is an error.
func (r *ProfileRepo) ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	unique := dedupe(ids)
	profiles := make(map[string]models.Profile, len(unique))
	if len(unique) == 0 {
		return profiles, nil
	}

	var rows []models.Profile
	err := r.db.SelectContext(ctx, &rows, `SELECT id, name, COALESCE(avatar_url, '') AS avatar_url, role
        FROM profiles WHERE id = ANY($1)`, pq.Array(unique))
	if err != nil {
		return nil, classify(err)
	}
	for _, p := range rows {
		profiles[p.ID] = p
	}
	return profiles, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
