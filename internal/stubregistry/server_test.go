package stubregistry

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"titipanq-admin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSeededServer(t *testing.T) (*Server, *Registry, *httptest.Server) {
	reg := New()
	require.NoError(t, Seed(reg))
	srv := NewServer(reg, zap.NewNop(), Options{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, reg, ts
}

func doJSON(t *testing.T, method, url, token string, body any) (int, models.Envelope[json.RawMessage]) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env models.Envelope[json.RawMessage]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func statusForm(t *testing.T, ids []string, recipientID string) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, id := range ids {
		require.NoError(t, mw.WriteField("package_ids", id))
	}
	require.NoError(t, mw.WriteField("recipient_id", recipientID))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestServer_LoginAndRoleCheck(t *testing.T) {
	_, _, ts := newSeededServer(t)

	code, env := doJSON(t, http.MethodPost, ts.URL+"/api/v1/admin/login", "", map[string]string{
		"user_email": "admin@titipanq.com", "user_password": "admin123",
	})
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Status)

	var tokens models.Tokens
	require.NoError(t, json.Unmarshal(env.Data, &tokens))
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	code, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/user/get-detail-user", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Status)

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/admin/login", "", map[string]string{
		"user_email": "admin@titipanq.com", "user_password": "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_RevokedTokenThenRefresh(t *testing.T) {
	srv, _, ts := newSeededServer(t)
	tokens, err := srv.IssueTokens("usr_admin", RoleAdmin)
	require.NoError(t, err)

	srv.RevokeAccessTokens()
	code, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/admin/get-all-package", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Status)

	code, env = doJSON(t, http.MethodPost, ts.URL+"/api/v1/admin/refresh-token", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, code)
	var refreshed models.RefreshedToken
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
	assert.Equal(t, 1, srv.RefreshCount())

	code, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/admin/get-all-package", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_Pagination(t *testing.T) {
	srv, _, ts := newSeededServer(t)
	tokens, err := srv.IssueTokens("usr_admin", RoleAdmin)
	require.NoError(t, err)

	_, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/admin/get-all-package?page=1&per_page=2", tokens.AccessToken, nil)
	require.NotNil(t, env.Meta)
	assert.Equal(t, models.Meta{Page: 1, PerPage: 2, MaxPage: 2, Count: 3}, *env.Meta)

	var page []models.Package
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page, 2)

	_, env = doJSON(t, http.MethodGet, ts.URL+"/api/v1/admin/get-all-package?pagination=false", tokens.AccessToken, nil)
	assert.Nil(t, env.Meta)
	var all []models.Package
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 3)
}

func TestServer_UpdateStatusPackages_Atomic(t *testing.T) {
	srv, reg, ts := newSeededServer(t)
	tokens, err := srv.IssueTokens("usr_admin", RoleAdmin)
	require.NoError(t, err)

	all := reg.Packages("")
	require.Len(t, all, 3)
	done := reg.PutPackage(models.Package{ID: "pkg_done", Status: models.StatusCompleted, Type: models.PackageTypeItem})

	body, ct := statusForm(t, []string{all[0].ID, done.ID}, "rec_budi")
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/api/v1/admin/update-status-packages", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	p, err := reg.Package(all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceived, p.Status, "batch must be rejected as a whole")

	body, ct = statusForm(t, []string{all[0].ID, all[1].ID}, "rec_budi")
	req, _ = http.NewRequest(http.MethodPatch, ts.URL+"/api/v1/admin/update-status-packages", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, id := range []string{all[0].ID, all[1].ID} {
		p, err := reg.Package(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, p.Status)
		require.NotNil(t, p.Recipient)
		assert.Equal(t, "rec_budi", p.Recipient.ID)

		h, err := reg.History(id)
		require.NoError(t, err)
		require.Len(t, h, 2)
		assert.Equal(t, models.StatusCompleted, h[1].Status)
		assert.Equal(t, "usr_admin", h[1].ChangedBy.ID)
	}

	recs := srv.Requests()
	last := recs[len(recs)-1]
	assert.Equal(t, []string{all[0].ID, all[1].ID}, last.Form["package_ids"])
}

func TestRegistry_ExpirePackages(t *testing.T) {
	reg := New()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return now })

	deadline := now.Add(-time.Minute)
	reg.PutPackage(models.Package{ID: "old", Status: models.StatusReceived, CreatedAt: now.Add(-100 * 24 * time.Hour)})
	reg.PutPackage(models.Package{ID: "fresh", Status: models.StatusReceived, CreatedAt: now.Add(-time.Hour)})
	reg.PutPackage(models.Package{ID: "deadline", Status: models.StatusReceived, CreatedAt: now.Add(-time.Hour), ExpiredAt: &deadline})
	reg.PutPackage(models.Package{ID: "done", Status: models.StatusCompleted, CreatedAt: now.Add(-200 * 24 * time.Hour)})

	assert.Equal(t, 2, reg.ExpirePackages("usr_admin"))

	for id, want := range map[string]models.PackageStatus{
		"old":      models.StatusExpired,
		"fresh":    models.StatusReceived,
		"deadline": models.StatusExpired,
		"done":     models.StatusCompleted,
	} {
		p, err := reg.Package(id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Status, id)
	}
}

func TestServer_FailNext(t *testing.T) {
	srv, _, ts := newSeededServer(t)
	tokens, err := srv.IssueTokens("usr_admin", RoleAdmin)
	require.NoError(t, err)

	srv.FailNext(http.MethodGet, "/admin/get-all-locker", http.StatusInternalServerError, "failed get all locker")
	code, env := doJSON(t, http.MethodGet, ts.URL+"/api/v1/admin/get-all-locker", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "failed get all locker", env.Message)

	code, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/admin/get-all-locker", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, srv.CountRequests(http.MethodGet, "/admin/get-all-locker"))
}
