package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis (or a Redis-compatible service),
// used when execcore is deployed across more than one instance so every
// orchestrator can see every job regardless of which instance created it.
type RedisStore struct {
	client   *redis.Client
	jobTTL   time.Duration
	tokenTTL time.Duration
}

// NewRedisStore dials addr and verifies connectivity before returning.
func NewRedisStore(addr, password string, db int, jobTTL, tokenTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, jobTTL: jobTTL, tokenTTL: tokenTTL}, nil
}

func jobKey(jobID string) string { return "execcore:job:" + jobID }
func tokenKey(selector string) string { return "execcore:token:" + selector }

type redisTokenRecord struct {
	JobID  string `json:"job_id"`
	Secret string `json:"secret"`
}

func (s *RedisStore) Create(ctx context.Context, source, language, filename string) (*Job, *IssuedToken, error) {
	now := time.Now()
	job := Job{
		ID:        newJobID(),
		Source:    source,
		Language:  language,
		Filename:  filename,
		Status:    StatusQueued,
		CreatedAt: now,
	}

	tokenTTL := s.tokenTTL
	if tokenTTL > s.jobTTL {
		tokenTTL = s.jobTTL
	}
	raw, parts, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	expiresAt := now.Add(tokenTTL)

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job: %w", err)
	}
	record := redisTokenRecord{JobID: job.ID, Secret: parts.secret}
	tokenJSON, err := json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), jobJSON, s.jobTTL)
	pipe.Set(ctx, tokenKey(parts.selector), tokenJSON, tokenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("persist job: %w", err)
	}

	return &job, &IssuedToken{Token: raw, ExpiresAt: expiresAt}, nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// transition reads the job, applies mutate if the current status is one of
// from, and writes it back with its remaining TTL preserved. It uses
// WATCH/MULTI so a concurrent transition on the same job never silently
// overwrites another's work.
func (s *RedisStore) transition(ctx context.Context, jobID string, from []Status, mutate func(*Job)) error {
	key := jobKey(jobID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("unmarshal job: %w", err)
		}

		allowed := false
		for _, st := range from {
			if job.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrIllegalTransition
		}

		mutate(&job)

		ttl := tx.TTL(ctx, key).Val()
		updated, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, []Status{StatusQueued}, func(j *Job) {
		j.Status = StatusProcessing
	})
}

func (s *RedisStore) MarkCompleted(ctx context.Context, jobID string, result Result) error {
	return s.transition(ctx, jobID, []Status{StatusProcessing}, func(j *Job) {
		j.Status = StatusCompleted
		j.CompletedAt = time.Now()
		r := result
		j.Result = &r
	})
}

func (s *RedisStore) MarkFailed(ctx context.Context, jobID string, reason string, partial *Result) error {
	return s.transition(ctx, jobID, []Status{StatusQueued, StatusProcessing}, func(j *Job) {
		j.Status = StatusFailed
		j.CompletedAt = time.Now()
		j.Error = reason
		if partial != nil {
			r := *partial
			j.Result = &r
		}
	})
}

func (s *RedisStore) ConsumeToken(ctx context.Context, token string) (string, error) {
	selector, secret, ok := parseToken(token)
	if !ok {
		return "", ErrInvalidToken
	}

	// GetDel atomically fetches and removes the selector's entry, so a
	// concurrent second call for the same token always observes it gone,
	// satisfying single-shot consumption regardless of which caller wins
	// the race.
	data, err := s.client.GetDel(ctx, tokenKey(selector)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("consume token: %w", err)
	}

	var record redisTokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("unmarshal token: %w", err)
	}

	if !secretsEqual(record.Secret, secret) {
		return "", ErrInvalidToken
	}
	return record.JobID, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
