package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"faceattend/internal/attendance"
)

// Status of an asynchronous attendance attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMatched   Status = "matched"
	StatusUnmatched Status = "unmatched"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned for unknown or expired attempts.
var ErrNotFound = errors.New("attempt not found")

// Attempt tracks one capture queued for identification.
type Attempt struct {
	ID        string              `json:"id"`
	KioskID   string              `json:"kiosk_id,omitempty"`
	Path      string              `json:"-"`
	Status    Status              `json:"status"`
	Outcome   *attendance.Outcome `json:"outcome,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// New starts a pending attempt for a staged capture.
func New(kioskID, path string) Attempt {
	now := time.Now().UTC()
	return Attempt{
		ID:        uuid.NewString(),
		KioskID:   kioskID,
		Path:      path,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete records the outcome of identification.
func (a *Attempt) Complete(out attendance.Outcome, err error) {
	a.UpdatedAt = time.Now().UTC()
	switch {
	case err != nil:
		a.Status = StatusFailed
		a.Error = err.Error()
	case out.Matched:
		a.Status = StatusMatched
		a.Outcome = &out
	default:
		a.Status = StatusUnmatched
		a.Outcome = &out
	}
}

// Store persists attempts.
type Store interface {
	Save(ctx context.Context, a Attempt) error
	Get(ctx context.Context, id string) (Attempt, error)
}

// Memory keeps attempts in process.
type Memory struct {
	mu    sync.RWMutex
	items map[string]Attempt
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{items: map[string]Attempt{}}
}

// Save stores a copy of a.
func (m *Memory) Save(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[a.ID] = a
	return nil
}

// Get returns the attempt with id.
func (m *Memory) Get(ctx context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

// Redis stores attempts as JSON strings under attempt:<id> with a TTL, so the
// api and a separate worker process see the same state.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a store. A non-positive ttl defaults to a day.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

// record is the stored form; Path is needed by the worker but hidden from API responses.
type record struct {
	Attempt
	Path string `json:"path"`
}

func key(id string) string { return "attempt:" + id }

// Save writes a and refreshes its TTL.
func (r *Redis) Save(ctx context.Context, a Attempt) error {
	data, err := json.Marshal(record{Attempt: a, Path: a.Path})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(a.ID), data, r.ttl).Err()
}

// Get reads the attempt with id.
func (r *Redis) Get(ctx context.Context, id string) (Attempt, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Attempt{}, err
	}
	rec.Attempt.Path = rec.Path
	return rec.Attempt, nil
}
