package registry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"titipanq-admin/internal/models"
	"titipanq-admin/internal/session"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	// refreshSkew access token 剩余有效期低于该值时在请求前先 refresh
	refreshSkew = 30 * time.Second
)

// Config registry client 配置
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	Role       string // admin | user，决定 login / refresh-token 的前缀
}

// Client TitipanQ registry REST 客户端
type Client struct {
	http    *resty.Client
	session *session.Manager
	logger  *zap.Logger
	role    string
}

// NewClient 创建客户端，并把 refresh 实现注入 session manager
func NewClient(cfg Config, sess *session.Manager, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	role := cfg.Role
	if role != RoleUser {
		role = RoleAdmin
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Accept", "application/json").
		// 只有 GET 会重试；PATCH/POST/DELETE 不能重复提交
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	c := &Client{
		http:    httpClient,
		session: sess,
		logger:  logger,
		role:    role,
	}
	sess.SetRefresher(c.RefreshToken)
	return c
}

// Session 当前 session manager
func (c *Client) Session() *session.Manager {
	return c.session
}

// Role 当前登录角色
func (c *Client) Role() string {
	return c.role
}

func (c *Client) rolePath(path string) string {
	return "/" + c.role + path
}

// prepareFunc 每次发送前构建请求体；401 重试时会再调用一次（multipart reader 不能复用）
type prepareFunc func(r *resty.Request)

// send 发送请求；auth=true 时带 bearer token，401 后 refresh 并重试一次
func (c *Client) send(ctx context.Context, method, path string, auth bool, prepare prepareFunc, fallback string) (*resty.Response, error) {
	var token string
	if auth {
		if c.session.NeedsRefresh(refreshSkew) {
			if _, err := c.session.Refresh(ctx, c.session.AccessToken()); err != nil {
				return nil, err
			}
		}
		token = c.session.AccessToken()
		if token == "" {
			return nil, session.ErrNotLoggedIn
		}
	}

	resp, err := c.execute(ctx, method, path, token, prepare, fallback)
	if err != nil {
		return nil, err
	}
	if !auth || resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	c.logger.Debug("Registry returned 401, refreshing token", zap.String("path", path))
	fresh, err := c.session.Refresh(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, method, path, fresh, prepare, fallback)
}

func (c *Client) execute(ctx context.Context, method, path, token string, prepare prepareFunc, fallback string) (*resty.Response, error) {
	requestID := uuid.NewString()
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if token != "" {
		req.SetAuthToken(token)
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("Registry request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, &models.APIError{Message: fallback, Detail: err.Error(), Err: err}
	}

	c.logger.Debug("Registry request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("elapsed", resp.Time()),
	)
	return resp, nil
}

// call 发送并把 envelope 解析成 T
func call[T any](ctx context.Context, c *Client, method, path string, auth bool, prepare prepareFunc, fallback string) (T, *models.Meta, error) {
	var zero T
	resp, err := c.send(ctx, method, path, auth, prepare, fallback)
	if err != nil {
		return zero, nil, err
	}
	return models.Decode[T](resp.StatusCode(), resp.Body(), fallback)
}

func jsonBody(body any) prepareFunc {
	return func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
}

func pageQuery(page, perPage int) prepareFunc {
	return func(r *resty.Request) {
		if page > 0 {
			r.SetQueryParam("page", strconv.Itoa(page))
		}
		if perPage > 0 {
			r.SetQueryParam("per_page", strconv.Itoa(perPage))
		}
	}
}

func unpaged(r *resty.Request) {
	r.SetQueryParam("pagination", "false")
}
