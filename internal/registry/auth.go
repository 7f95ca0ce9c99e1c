package registry

import (
	"context"
	"net/http"

	"titipanq-admin/internal/models"
	"titipanq-admin/internal/validation"

	"go.uber.org/zap"
)

// Login 登录并保存 token 对
func (c *Client) Login(ctx context.Context, form validation.LoginForm) (models.Tokens, error) {
	if err := validation.Validate(form); err != nil {
		return models.Tokens{}, err
	}
	tokens, _, err := call[models.Tokens](ctx, c, http.MethodPost, c.rolePath("/login"), false, jsonBody(form), "Login failed")
	if err != nil {
		return models.Tokens{}, err
	}
	if err := c.session.SetTokens(tokens); err != nil {
		return models.Tokens{}, err
	}
	c.logger.Info("Logged in", zap.String("role", c.role))
	return tokens, nil
}

// Logout 本地清除 token（registry 没有 logout 接口）
func (c *Client) Logout() error {
	return c.session.Logout()
}

// RefreshToken POST /{role}/refresh-token，返回新的 access token。
// 由 session.Manager 在 single-flight 中调用，不直接使用。
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	body := map[string]string{"refresh_token": refreshToken}
	out, _, err := call[models.RefreshedToken](ctx, c, http.MethodPost, c.rolePath("/refresh-token"), false, jsonBody(body), "Failed to refresh token")
	if err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Register 租户用户自助注册（/user/register）
func (c *Client) Register(ctx context.Context, form validation.RegisterForm) (models.User, error) {
	if err := validation.Validate(form); err != nil {
		return models.User{}, err
	}
	u, _, err := call[models.User](ctx, c, http.MethodPost, "/user/register", false, jsonBody(form), "Registration failed")
	return u, err
}
