package jobstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	ctx := context.Background()
	job, token, err := store.Create(ctx, "print(1)", "python", "main.py")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.NotEmpty(t, token.Token)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestMemoryStore_StatusTransitions(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	ctx := context.Background()
	job, _, err := store.Create(ctx, "print(1)", "python", "main.py")
	require.NoError(t, err)

	t.Run("completed before processing is illegal", func(t *testing.T) {
		err := store.MarkCompleted(ctx, job.ID, Result{Success: true})
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	require.NoError(t, store.MarkProcessing(ctx, job.ID))

	t.Run("processing twice is illegal", func(t *testing.T) {
		err := store.MarkProcessing(ctx, job.ID)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	require.NoError(t, store.MarkCompleted(ctx, job.ID, Result{Success: true, ExitCode: 0}))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)

	t.Run("mutating terminal status is illegal", func(t *testing.T) {
		err := store.MarkFailed(ctx, job.ID, "late failure", nil)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

func TestMemoryStore_ConsumeTokenSingleShot(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	ctx := context.Background()
	job, token, err := store.Create(ctx, "print(1)", "python", "main.py")
	require.NoError(t, err)

	jobID, err := store.ConsumeToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, job.ID, jobID)

	_, err = store.ConsumeToken(ctx, token.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMemoryStore_ConsumeTokenConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	ctx := context.Background()
	_, token, err := store.Create(ctx, "print(1)", "python", "main.py")
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeToken(ctx, token.Token); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestMemoryStore_ConsumeTokenRejectsWrongSecret(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	ctx := context.Background()
	_, token, err := store.Create(ctx, "print(1)", "python", "main.py")
	require.NoError(t, err)

	selector, _, ok := parseToken(token.Token)
	require.True(t, ok)

	_, err = store.ConsumeToken(ctx, selector+".not-the-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMemoryStore_GetUnknownJob(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	defer store.Close()

	_, err := store.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}
