package jobstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, the default for a single-instance
// deployment and for tests. It provides no durability across restarts.
type MemoryStore struct {
	jobTTL   time.Duration
	tokenTTL time.Duration

	mu     sync.Mutex
	jobs   map[string]*jobEntry
	tokens map[string]*tokenEntry

	gcInterval time.Duration
	stopCh     chan struct{}
}

type jobEntry struct {
	job       Job
	expiresAt time.Time
}

type tokenEntry struct {
	jobID     string
	secret    string
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore with the given job and token
// time-to-live. It starts a background goroutine that periodically evicts
// expired entries; call Close to stop it.
func NewMemoryStore(jobTTL, tokenTTL time.Duration) *MemoryStore {
	s := &MemoryStore{
		jobTTL:     jobTTL,
		tokenTTL:   tokenTTL,
		jobs:       make(map[string]*jobEntry),
		tokens:     make(map[string]*tokenEntry),
		gcInterval: time.Minute,
		stopCh:     make(chan struct{}),
	}
	go s.gc()
	return s
}

func (s *MemoryStore) Create(ctx context.Context, source, language, filename string) (*Job, *IssuedToken, error) {
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

	s.mu.Lock()
	s.jobs[job.ID] = &jobEntry{job: job, expiresAt: now.Add(s.jobTTL)}
	s.tokens[parts.selector] = &tokenEntry{jobID: job.ID, secret: parts.secret, expiresAt: expiresAt}
	s.mu.Unlock()

	return &job, &IssuedToken{Token: raw, ExpiresAt: expiresAt}, nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[jobID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	job := entry.job
	return &job, nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[jobID]
	if !ok || time.Now().After(entry.expiresAt) {
		return ErrNotFound
	}
	if entry.job.Status != StatusQueued {
		return ErrIllegalTransition
	}
	entry.job.Status = StatusProcessing
	return nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, jobID string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[jobID]
	if !ok || time.Now().After(entry.expiresAt) {
		return ErrNotFound
	}
	if entry.job.Status != StatusProcessing {
		return ErrIllegalTransition
	}
	entry.job.Status = StatusCompleted
	entry.job.CompletedAt = time.Now()
	r := result
	entry.job.Result = &r
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, jobID string, reason string, partial *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[jobID]
	if !ok || time.Now().After(entry.expiresAt) {
		return ErrNotFound
	}
	if entry.job.Status.terminal() {
		return ErrIllegalTransition
	}
	entry.job.Status = StatusFailed
	entry.job.CompletedAt = time.Now()
	entry.job.Error = reason
	if partial != nil {
		r := *partial
		entry.job.Result = &r
	}
	return nil
}

func (s *MemoryStore) ConsumeToken(ctx context.Context, token string) (string, error) {
	selector, secret, ok := parseToken(token)
	if !ok {
		return "", ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[selector]
	if !ok {
		return "", ErrInvalidToken
	}
	// Delete unconditionally: whether the secret matches or not, this
	// selector is now spent, matching the single-shot guarantee even for a
	// forged guess at an existing selector.
	delete(s.tokens, selector)

	if time.Now().After(entry.expiresAt) || !secretsEqual(entry.secret, secret) {
		return "", ErrInvalidToken
	}
	return entry.jobID, nil
}

func (s *MemoryStore) Close() error {
	close(s.stopCh)
	return nil
}

func (s *MemoryStore) gc() {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.jobs {
		if now.After(entry.expiresAt) {
			delete(s.jobs, id)
		}
	}
	for selector, entry := range s.tokens {
		if now.After(entry.expiresAt) {
			delete(s.tokens, selector)
		}
	}
}
