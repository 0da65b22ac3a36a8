// Package jobstore is the short-TTL record of a submission's lifecycle: its
// source, its status, its eventual result, and the single-use token that
// gates WebSocket attachment to it.
package jobstore

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a job's position in its one-way lifecycle.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// terminal reports whether s admits no further transition.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result is a job's outcome, present only once the job reaches a terminal
// status.
type Result struct {
	Success    bool
	ExitCode   int
	ElapsedSec float64
	Stdout     string
	Stderr     string
}

// Job is a single submission's lifecycle record.
type Job struct {
	ID          string
	Source      string
	Language    string
	Filename    string
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
	Error       string
	Result      *Result
}

var (
	// ErrNotFound is returned when a job does not exist, including when it
	// has expired. An unknown token yields ErrInvalidToken instead.
	ErrNotFound = errors.New("jobstore: not found")
	// ErrIllegalTransition is returned when a status mutation is attempted
	// from a status that does not permit it.
	ErrIllegalTransition = errors.New("jobstore: illegal status transition")
	// ErrInvalidToken is returned by ConsumeToken for an unknown, expired, or
	// already-consumed token.
	ErrInvalidToken = errors.New("jobstore: invalid token")
)

// Store is the job-record and token adapter. Implementations must honor the
// monotone, one-way status transitions and the single-shot consumption of a
// token: a second ConsumeToken call for the same token always fails, even if
// the first call is concurrent with it.
type Store interface {
	// Create persists a new job in status queued and issues a JobToken bound
	// to it. The token's lifetime never exceeds the job's.
	Create(ctx context.Context, source, language, filename string) (*Job, *IssuedToken, error)
	// Get returns the current state of a job. The returned Job is a copy; it
	// is never mutated by the store afterward.
	Get(ctx context.Context, jobID string) (*Job, error)
	// MarkProcessing transitions a job from queued to processing.
	MarkProcessing(ctx context.Context, jobID string) error
	// MarkCompleted transitions a job from processing to completed, storing
	// its result.
	MarkCompleted(ctx context.Context, jobID string, result Result) error
	// MarkFailed transitions a job from queued or processing to failed. A
	// partial result may be attached when some output was captured before
	// the failure.
	MarkFailed(ctx context.Context, jobID string, reason string, partial *Result) error
	// ConsumeToken redeems a token for the job identifier it is bound to.
	// Every call after the first successful one for a given token returns
	// ErrInvalidToken, whether the token truly never existed or has already
	// been spent.
	ConsumeToken(ctx context.Context, token string) (jobID string, err error)
	// Close releases resources held by the store (connections, background
	// goroutines).
	Close() error
}

// IssuedToken is returned by Create: the opaque bearer string handed to the
// client, and when it expires.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// newJobID mints a collision-resistant job identifier.
func newJobID() string {
	return uuid.NewString()
}

// token is split into a selector, used as the lookup key, and a secret,
// compared in constant time. Splitting the two means a consuming lookup
// never needs to compare the secret against every stored token to stay
// constant-time: only the single candidate secret selected by the selector
// is compared, and that one comparison is constant-time.
type tokenParts struct {
	selector string
	secret   string
}

func newToken() (string, tokenParts, error) {
	selector, err := randomBase64(16)
	if err != nil {
		return "", tokenParts{}, fmt.Errorf("generate token selector: %w", err)
	}
	secret, err := randomBase64(32)
	if err != nil {
		return "", tokenParts{}, fmt.Errorf("generate token secret: %w", err)
	}

	parts := tokenParts{selector: selector, secret: secret}
	return parts.selector + "." + parts.secret, parts, nil
}

func parseToken(token string) (selector, secret string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
