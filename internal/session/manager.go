package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"titipanq-admin/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionExpired refresh 失败，会话已被强制登出
	ErrSessionExpired = errors.New("session expired, please login again")
	// ErrNotLoggedIn 没有可用的 token
	ErrNotLoggedIn = errors.New("not logged in")
)

// RefreshFunc 用 refresh token 换新的 access token
type RefreshFunc func(ctx context.Context, refreshToken string) (string, error)

// Manager 进程内唯一的 token 对持有者
// 并发请求同时遇到 401 时共享同一次 refresh，全部用新 token 重试
type Manager struct {
	mu       sync.RWMutex
	tokens   models.Tokens
	store    TokenStore
	refresh  RefreshFunc
	onLogout func()
	group    singleflight.Group
	logger   *zap.Logger

	refreshTimeout time.Duration
}

// NewManager 从 store 恢复 token
func NewManager(store TokenStore, logger *zap.Logger) (*Manager, error) {
	tokens, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Manager{
		tokens:         tokens,
		store:          store,
		logger:         logger,
		refreshTimeout: 15 * time.Second,
	}, nil
}

// SetRefresher 注入 refresh 实现（由 registry client 提供）
func (m *Manager) SetRefresher(fn RefreshFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = fn
}

// OnLogout 强制登出时的回调（CLI 提示重新登录）
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = fn
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.AccessToken
}

func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens.RefreshToken
}

func (m *Manager) LoggedIn() bool {
	return m.AccessToken() != ""
}

// SetTokens login 成功后保存 token 对
func (m *Manager) SetTokens(tokens models.Tokens) error {
	m.mu.Lock()
	m.tokens = tokens
	m.mu.Unlock()
	return m.store.Save(tokens)
}

// Logout 清除 token（主动登出）
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.tokens = models.Tokens{}
	m.mu.Unlock()
	return m.store.Clear()
}

// Refresh 用 stale 之后的新 access token 返回。
// 如果 stale 已经被别的请求刷新掉，直接返回当前 token，不再发起 refresh。
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	if current, ok := m.replaced(stale); ok {
		return current, nil
	}

	ch := m.group.DoChan("refresh", func() (any, error) {
		return m.doRefresh(ctx, stale)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// replaced stale 已被替换时返回当前 token
func (m *Manager) replaced(stale string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	current := m.tokens.AccessToken
	return current, current != "" && stale != "" && current != stale
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	// 上一轮 refresh 可能在 Refresh 检查之后、进入 flight 之前刚完成
	if current, ok := m.replaced(stale); ok {
		return current, nil
	}

	m.mu.RLock()
	refreshToken := m.tokens.RefreshToken
	refresh := m.refresh
	m.mu.RUnlock()

	if refreshToken == "" || refresh == nil {
		m.forceLogout(ErrNotLoggedIn)
		return "", ErrSessionExpired
	}

	// 共享的 refresh 不跟随某一个调用方的取消
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	access, err := refresh(refreshCtx, refreshToken)
	if err != nil {
		m.forceLogout(err)
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if access == "" {
		m.forceLogout(errors.New("refresh response has no access_token"))
		return "", ErrSessionExpired
	}

	m.mu.Lock()
	m.tokens.AccessToken = access
	tokens := m.tokens
	m.mu.Unlock()

	if err := m.store.Save(tokens); err != nil {
		m.logger.Warn("Failed to persist refreshed token", zap.Error(err))
	}
	m.logger.Debug("Access token refreshed")
	return access, nil
}

func (m *Manager) forceLogout(cause error) {
	m.logger.Warn("Refresh token failed, forcing logout", zap.Error(cause))

	m.mu.Lock()
	m.tokens = models.Tokens{}
	hook := m.onLogout
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Error("Failed to clear session store", zap.Error(err))
	}
	if hook != nil {
		hook()
	}
}

// NeedsRefresh access token 在 skew 内过期（或无法解析 exp）时返回 true。
// 只读取 claims，不校验签名，签名由 registry 校验。
func (m *Manager) NeedsRefresh(skew time.Duration) bool {
	token := m.AccessToken()
	if token == "" {
		return false
	}
	exp, err := expiresAt(token)
	if err != nil {
		return false
	}
	return time.Now().Add(skew).After(exp)
}

func expiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}
