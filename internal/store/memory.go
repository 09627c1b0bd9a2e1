package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	users map[string]*models.UserRecord
}

// MemoryStore in-process store. Records are spread over shards by ID hash;
// a check-in for one user never waits on another shard's lock.
type MemoryStore struct {
	shards [shardCount]*shard
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{users: make(map[string]*models.UserRecord)}
	}
	return s
}

func (s *MemoryStore) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%shardCount]
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.UserRecord, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, rec *models.UserRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	sh := s.shardFor(rec.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.users[rec.ID]; ok {
		return ErrAlreadyExists
	}
	sh.users[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) UpsertCheckIn(_ context.Context, in models.CheckIn) (*models.UserRecord, error) {
	sh := s.shardFor(in.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.users[in.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	if isStale(rec, in.ObservedAt) {
		return nil, ErrStale
	}

	rec.LastCheckIn = in.ObservedAt
	rec.BatteryLevel = in.BatteryLevel
	if in.Location != nil {
		loc := *in.Location
		rec.LastLocation = &loc
	} else {
		rec.LastLocation = nil
	}
	rec.IsEscalated = false

	return rec.Clone(), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]models.UserRecord, error) {
	var out []models.UserRecord
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.users {
			out = append(out, *rec.Clone())
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MarkEscalated(_ context.Context, id string, observedLastCheckIn time.Time) (*models.UserRecord, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.IsEscalated {
		return nil, ErrAlreadyEscalated
	}
	if !rec.LastCheckIn.Equal(observedLastCheckIn) {
		return nil, ErrSuperseded
	}

	rec.IsEscalated = true
	return rec.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.users[id]; !ok {
		return ErrNotFound
	}
	delete(sh.users, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
