package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"titipanq-admin/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, tokens models.Tokens) (*Manager, *MemoryTokenStore) {
	store := NewMemoryTokenStore(tokens)
	m, err := NewManager(store, zap.NewNop())
	require.NoError(t, err)
	return m, store
}

func TestManager_Refresh_SingleFlight(t *testing.T) {
	m, store := newTestManager(t, models.Tokens{AccessToken: "old", RefreshToken: "r1"})

	var calls int32
	release := make(chan struct{})
	m.SetRefresher(func(ctx context.Context, refreshToken string) (string, error) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "r1", refreshToken)
		<-release
		return "new", nil
	})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background(), "old")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new", results[i])
	}

	saved, _ := store.Load()
	assert.Equal(t, "new", saved.AccessToken)
	assert.Equal(t, "r1", saved.RefreshToken)
}

func TestManager_Refresh_StaleTokenAlreadyReplaced(t *testing.T) {
	m, _ := newTestManager(t, models.Tokens{AccessToken: "current", RefreshToken: "r1"})

	m.SetRefresher(func(ctx context.Context, refreshToken string) (string, error) {
		t.Fatal("refresh must not be called for an already replaced token")
		return "", nil
	})

	tok, err := m.Refresh(context.Background(), "older")
	require.NoError(t, err)
	assert.Equal(t, "current", tok)
}

func TestManager_Refresh_FlightRechecksStaleToken(t *testing.T) {
	m, _ := newTestManager(t, models.Tokens{AccessToken: "old", RefreshToken: "r1"})

	var calls int32
	m.SetRefresher(func(ctx context.Context, refreshToken string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "new", nil
	})

	tok, err := m.Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	// 调用方在上一轮完成前读到了 "old"，进入 flight 时 token 已经换掉
	tok, err = m.doRefresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestManager_Refresh_FailureForcesLogout(t *testing.T) {
	m, store := newTestManager(t, models.Tokens{AccessToken: "old", RefreshToken: "r1"})

	var loggedOut int32
	m.OnLogout(func() { atomic.AddInt32(&loggedOut, 1) })
	m.SetRefresher(func(ctx context.Context, refreshToken string) (string, error) {
		return "", errors.New("refresh token revoked")
	})

	_, err := m.Refresh(context.Background(), "old")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loggedOut))
	assert.False(t, m.LoggedIn())

	saved, _ := store.Load()
	assert.Equal(t, models.Tokens{}, saved)
}

func TestManager_Refresh_NoRefreshToken(t *testing.T) {
	m, _ := newTestManager(t, models.Tokens{AccessToken: "old"})
	m.SetRefresher(func(ctx context.Context, refreshToken string) (string, error) {
		return "new", nil
	})

	_, err := m.Refresh(context.Background(), "old")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestManager_Refresh_CallerCancelDoesNotAbortSharedRefresh(t *testing.T) {
	m, _ := newTestManager(t, models.Tokens{AccessToken: "old", RefreshToken: "r1"})

	started := make(chan struct{})
	release := make(chan struct{})
	m.SetRefresher(func(ctx context.Context, refreshToken string) (string, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "new", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Refresh(ctx, "old")
		errCh <- err
	}()
	<-started

	waiter := make(chan string, 1)
	go func() {
		tok, _ := m.Refresh(context.Background(), "old")
		waiter <- tok
	}()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	assert.Equal(t, "new", <-waiter)
	assert.Equal(t, "new", m.AccessToken())
}

func TestManager_NeedsRefresh(t *testing.T) {
	sign := func(exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "user_id": "usr_1"})
		s, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}

	m, _ := newTestManager(t, models.Tokens{AccessToken: sign(time.Now().Add(10 * time.Second))})
	assert.True(t, m.NeedsRefresh(time.Minute))
	assert.False(t, m.NeedsRefresh(time.Second))

	m2, _ := newTestManager(t, models.Tokens{AccessToken: sign(time.Now().Add(time.Hour))})
	assert.False(t, m2.NeedsRefresh(time.Minute))

	m3, _ := newTestManager(t, models.Tokens{AccessToken: "not-a-jwt"})
	assert.False(t, m3.NeedsRefresh(time.Minute))
}

func TestFileTokenStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileTokenStore(path)

	empty, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.Tokens{}, empty)

	require.NoError(t, store.Save(models.Tokens{AccessToken: "a", RefreshToken: "r"}))
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.AccessToken)
	assert.Equal(t, "r", loaded.RefreshToken)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	cleared, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.Tokens{}, cleared)
}
