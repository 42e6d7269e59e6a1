package refreshtokens

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps refresh tokens in process memory. A single mutex
// serialises every operation, which makes Rotate trivially atomic. It is never
// held across a callback.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]*models.RefreshToken)}
}

func (r *MemoryRepository) Add(_ context.Context, token *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(token)
}

func (r *MemoryRepository) add(token *models.RefreshToken) error {
	if _, ok := r.tokens[token.Token]; ok {
		return common.ErrDuplicateToken
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	stored := *token
	r.tokens[token.Token] = &stored
	return nil
}

func (r *MemoryRepository) GetByToken(_ context.Context, value string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[value]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *t
	return &out, nil
}

func (r *MemoryRepository) Revoke(_ context.Context, value string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[value]; ok {
		t.Revoke(at)
	}
	return nil
}

func (r *MemoryRepository) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, t := range r.tokens {
		if t.UserID == userID && !t.IsRevoked {
			t.Revoke(at)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Rotate(_ context.Context, presented string, next *models.RefreshToken, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[presented]
	if !ok || !t.IsActive(at) || t.UserID != next.UserID {
		return common.ErrorNotFound
	}
	if _, taken := r.tokens[next.Token]; taken {
		return common.ErrDuplicateToken
	}
	t.Revoke(at)
	return r.add(next)
}

func (r *MemoryRepository) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, t := range r.tokens {
		if !t.IsRevoked && t.IsExpired(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

// PurgeRevoked does not hold the lock while archive runs. Rows purged by a
// concurrent call in the meantime are not counted.
func (r *MemoryRepository) PurgeRevoked(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error) {
	r.mu.Lock()
	var keys []string
	var purged []models.RefreshToken
	for k, t := range r.tokens {
		if t.IsRevoked && !before.Before(t.ExpiresAt) {
			keys = append(keys, k)
			purged = append(purged, *t)
		}
	}
	r.mu.Unlock()

	if len(keys) == 0 {
		return 0, nil
	}
	if archive != nil {
		if err := archive(ctx, purged); err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, k := range keys {
		if t, ok := r.tokens[k]; ok && t.IsRevoked {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListActiveForUser(_ context.Context, userID string, now time.Time) ([]models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.RefreshToken
	for _, t := range r.tokens {
		if t.UserID == userID && t.IsActive(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
