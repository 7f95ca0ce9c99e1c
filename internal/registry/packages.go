package registry

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"titipanq-admin/internal/models"
	"titipanq-admin/internal/photo"
	"titipanq-admin/internal/validation"

	"go.uber.org/zap"
)

// StatusUpdate 一次取件：整批包裹 + 取件人 + 可选取件照片
type StatusUpdate struct {
	PackageIDs  []string
	RecipientID string
	Proof       *photo.Payload
}

// ExpireResult trigger-expire-packages 的返回
type ExpireResult struct {
	Expired int `json:"expired"`
}

// ListPackages 分页获取包裹
func (c *Client) ListPackages(ctx context.Context, page, perPage int) (models.Page[models.Package], error) {
	items, meta, err := call[[]models.Package](ctx, c, http.MethodGet, "/admin/get-all-package", true, pageQuery(page, perPage), "Failed to load packages")
	return models.Page[models.Package]{Items: items, Meta: meta}, err
}

// ListAllPackages ?pagination=false
func (c *Client) ListAllPackages(ctx context.Context) ([]models.Package, error) {
	items, _, err := call[[]models.Package](ctx, c, http.MethodGet, "/admin/get-all-package", true, unpaged, "Failed to load packages")
	return items, err
}

func (c *Client) GetPackage(ctx context.Context, id string) (models.Package, error) {
	p, _, err := call[models.Package](ctx, c, http.MethodGet, "/admin/get-detail-package/"+url.PathEscape(id), true, nil, "Failed to load package")
	return p, err
}

// ListPackageHistory 按时间顺序的状态历史
func (c *Client) ListPackageHistory(ctx context.Context, id string) ([]models.PackageHistory, error) {
	h, _, err := call[[]models.PackageHistory](ctx, c, http.MethodGet, "/admin/get-all-package-history/"+url.PathEscape(id), true, nil, "Failed to load package history")
	return h, err
}

func packageValues(form validation.PackageForm) url.Values {
	v := url.Values{}
	v.Set("package_description", form.Description)
	v.Set("package_type", form.Type)
	v.Set("package_quantity", strconv.Itoa(form.Quantity))
	v.Set("user_id", form.UserID)
	if form.TrackingCode != "" {
		v.Set("package_tracking_code", form.TrackingCode)
	}
	if form.LockerID != "" {
		v.Set("locker_id", form.LockerID)
	}
	if form.SenderID != "" {
		v.Set("sender_id", form.SenderID)
	}
	return v
}

// CreatePackage multipart，image 可选
func (c *Client) CreatePackage(ctx context.Context, form validation.PackageForm, image *photo.Payload) (models.Package, error) {
	if err := validation.Validate(form); err != nil {
		return models.Package{}, err
	}
	body := multipartBody(packageValues(form), "package_image", image)
	p, _, err := call[models.Package](ctx, c, http.MethodPost, "/admin/create-package", true, body, "Failed to create package")
	return p, err
}

// UpdatePackage multipart，image 为 nil 时保留原图片
func (c *Client) UpdatePackage(ctx context.Context, id string, form validation.PackageForm, image *photo.Payload) (models.Package, error) {
	if err := validation.Validate(form); err != nil {
		return models.Package{}, err
	}
	body := multipartBody(packageValues(form), "package_image", image)
	p, _, err := call[models.Package](ctx, c, http.MethodPatch, "/admin/update-package/"+url.PathEscape(id), true, body, "Failed to update package")
	return p, err
}

func (c *Client) DeletePackage(ctx context.Context, id string) (models.Package, error) {
	p, _, err := call[models.Package](ctx, c, http.MethodDelete, "/admin/delete-package/"+url.PathEscape(id), true, nil, "Failed to delete package")
	return p, err
}

// UpdateStatusPackages 整批取件：一个 PATCH，重复的 package_ids + recipient_id + 可选 proof_image
func (c *Client) UpdateStatusPackages(ctx context.Context, upd StatusUpdate) ([]models.Package, error) {
	if err := validation.Validate(validation.UpdateStatusForm{
		PackageIDs:  upd.PackageIDs,
		RecipientID: upd.RecipientID,
	}); err != nil {
		return nil, err
	}

	values := url.Values{}
	for _, id := range upd.PackageIDs {
		values.Add("package_ids", id)
	}
	values.Set("recipient_id", upd.RecipientID)

	body := multipartBody(values, "proof_image", upd.Proof)
	updated, _, err := call[[]models.Package](ctx, c, http.MethodPatch, "/admin/update-status-packages", true, body, "Failed to update package status")
	if err != nil {
		return nil, err
	}
	c.logger.Info("Package status updated",
		zap.Strings("package_ids", upd.PackageIDs),
		zap.String("recipient_id", upd.RecipientID),
		zap.Bool("has_proof", upd.Proof != nil),
	)
	return updated, nil
}

// TriggerExpire 让 registry 立即执行一次过期检查
func (c *Client) TriggerExpire(ctx context.Context) (ExpireResult, error) {
	out, _, err := call[ExpireResult](ctx, c, http.MethodPost, "/admin/trigger-expire-packages", true, nil, "Failed to trigger package expiry")
	return out, err
}

// ListMyPackages 用户端：当前用户的包裹
func (c *Client) ListMyPackages(ctx context.Context, page, perPage int) (models.Page[models.Package], error) {
	items, meta, err := call[[]models.Package](ctx, c, http.MethodGet, "/user/get-all-package", true, pageQuery(page, perPage), "Failed to load packages")
	return models.Page[models.Package]{Items: items, Meta: meta}, err
}

// ListAllMyPackages 用户端：不分页
func (c *Client) ListAllMyPackages(ctx context.Context) ([]models.Package, error) {
	items, _, err := call[[]models.Package](ctx, c, http.MethodGet, "/user/get-all-package", true, unpaged, "Failed to load packages")
	return items, err
}

func (c *Client) ListMyPackageHistory(ctx context.Context, id string) ([]models.PackageHistory, error) {
	h, _, err := call[[]models.PackageHistory](ctx, c, http.MethodGet, "/user/get-all-package-history/"+url.PathEscape(id), true, nil, "Failed to load package history")
	return h, err
}
