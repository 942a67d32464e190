package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	JobKeyPrefix       = "job:"
	JobResultKeyPrefix = "job_result:"
)

// JobRecord is the dispatcher's view of an outstanding or finished job.
type JobRecord struct {
	RequestID  string                 `json:"requestId"`
	UserID     string                 `json:"userId"`
	Service    string                 `json:"service"`
	Cost       int64                  `json:"cost"`
	Status     JobStatus              `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Unbilled   bool                   `json:"unbilled,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	ResolvedAt *time.Time             `json:"resolvedAt,omitempty"`
}

func (r *JobRecord) IsResolved() bool {
	return r.Status == JobStatusSuccess || r.Status == JobStatusError
}

// JobStore keeps job records for the correlator and the jobs API.
type JobStore interface {
	Save(ctx context.Context, rec *JobRecord) error
	Get(ctx context.Context, requestID string) (*JobRecord, error)
	// Resolve stores the final record once. It reports false when another
	// result already resolved the job.
	Resolve(ctx context.Context, rec *JobRecord) (bool, error)
}

type redisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisJobStore(client *redis.Client) JobStore {
	return &redisJobStore{client: client, ttl: JobTTL}
}

func (s *redisJobStore) Save(ctx context.Context, rec *JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", rec.RequestID, err)
	}
	if err := s.client.Set(ctx, JobKeyPrefix+rec.RequestID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job %s: %w", rec.RequestID, err)
	}
	return nil
}

func (s *redisJobStore) Get(ctx context.Context, requestID string) (*JobRecord, error) {
	data, err := s.client.Get(ctx, JobKeyPrefix+requestID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job %s: %w", requestID, err)
	}
	var rec JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", requestID, err)
	}
	return &rec, nil
}

func (s *redisJobStore) Resolve(ctx context.Context, rec *JobRecord) (bool, error) {
	marker := JobResultKeyPrefix + rec.RequestID
	claimed, err := s.client.SetNX(ctx, marker, string(rec.Status), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", rec.RequestID, err)
	}
	if !claimed {
		return false, nil
	}
	if err := s.Save(ctx, rec); err != nil {
		// Release the claim so a redelivery can finish the job.
		s.client.Del(ctx, marker)
		return false, err
	}
	return true, nil
}

// MemoryJobStore keeps records in process.
type MemoryJobStore struct {
	mu       sync.Mutex
	records  map[string]JobRecord
	resolved map[string]bool
	// FailNext makes the next store call fail once.
	FailNext error
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{records: make(map[string]JobRecord), resolved: make(map[string]bool)}
}

func (s *MemoryJobStore) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *MemoryJobStore) Save(_ context.Context, rec *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.records[rec.RequestID] = *rec
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, requestID string) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	rec, ok := s.records[requestID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &rec, nil
}

func (s *MemoryJobStore) Resolve(_ context.Context, rec *JobRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return false, err
	}
	if s.resolved[rec.RequestID] {
		return false, nil
	}
	s.resolved[rec.RequestID] = true
	s.records[rec.RequestID] = *rec
	return true, nil
}
