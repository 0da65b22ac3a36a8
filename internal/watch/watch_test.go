package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProfileWatcher_DetectsWrite(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "sandbox.json")
	require.NoError(t, os.WriteFile(profile, []byte(`{"v":1}`), 0o644))

	w := NewProfileWatcher(profile)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = w.Watch(ctx) }()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(profile, []byte(`{"v":2}`), 0o644)
	}()

	require.NoError(t, w.WaitUntil(ctx))
}

func TestProfileWatcher_WaitUntilRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	profile := filepath.Join(dir, "sandbox.json")
	require.NoError(t, os.WriteFile(profile, []byte(`{}`), 0o644))

	w := NewProfileWatcher(profile)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.WaitUntil(ctx)
	require.Error(t, err)
}
