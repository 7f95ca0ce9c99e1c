package registry

import (
	"context"
	"net/http"
	"net/url"

	"titipanq-admin/internal/models"
	"titipanq-admin/internal/validation"
)

// resource 一类实体的 CRUD 路由。线上路由命名不统一（get-detil-recipient / deleted-sender），照抄。
type resource struct {
	name   string
	list   string
	detail string
	create string
	update string
	delete string
}

var (
	companies  = resource{"company", "/admin/get-all-company", "/admin/get-detail-company/", "/admin/create-company", "/admin/update-company/", "/admin/delete-company/"}
	lockers    = resource{"locker", "/admin/get-all-locker", "/admin/get-detail-locker/", "/admin/create-locker", "/admin/update-locker/", "/admin/delete-locker/"}
	recipients = resource{"recipient", "/admin/get-all-recipients", "/admin/get-detil-recipient/", "/admin/create-recipient", "/admin/update-recipient/", "/admin/deleted-recipient/"}
	senders    = resource{"sender", "/admin/sender", "/admin/sender/", "/admin/create-sender", "/admin/update-sender/", "/admin/deleted-sender/"}
	users      = resource{"user", "/admin/get-all-user", "/admin/get-detail-user/", "/admin/create-user", "/admin/update-user/", "/admin/delete-user/"}
)

func listPage[T any](ctx context.Context, c *Client, res resource, page, perPage int) (models.Page[T], error) {
	items, meta, err := call[[]T](ctx, c, http.MethodGet, res.list, true, pageQuery(page, perPage), "Failed to load "+res.name+" list")
	return models.Page[T]{Items: items, Meta: meta}, err
}

func listAll[T any](ctx context.Context, c *Client, res resource) ([]T, error) {
	items, _, err := call[[]T](ctx, c, http.MethodGet, res.list, true, unpaged, "Failed to load "+res.name+" list")
	return items, err
}

func detail[T any](ctx context.Context, c *Client, res resource, id string) (T, error) {
	v, _, err := call[T](ctx, c, http.MethodGet, res.detail+url.PathEscape(id), true, nil, "Failed to load "+res.name)
	return v, err
}

func create[T any](ctx context.Context, c *Client, res resource, form any) (T, error) {
	var zero T
	if err := validation.Validate(form); err != nil {
		return zero, err
	}
	v, _, err := call[T](ctx, c, http.MethodPost, res.create, true, jsonBody(form), "Failed to create "+res.name)
	return v, err
}

func update[T any](ctx context.Context, c *Client, res resource, id string, form any) (T, error) {
	var zero T
	if err := validation.Validate(form); err != nil {
		return zero, err
	}
	v, _, err := call[T](ctx, c, http.MethodPatch, res.update+url.PathEscape(id), true, jsonBody(form), "Failed to update "+res.name)
	return v, err
}

func remove(ctx context.Context, c *Client, res resource, id string) error {
	_, _, err := call[any](ctx, c, http.MethodDelete, res.delete+url.PathEscape(id), true, nil, "Failed to delete "+res.name)
	return err
}

// ---- companies ----

func (c *Client) ListCompanies(ctx context.Context, page, perPage int) (models.Page[models.Company], error) {
	return listPage[models.Company](ctx, c, companies, page, perPage)
}

// ListAllCompanies admin 与 user 角色都可用（user 端是公开接口，用于注册时选择公司）
func (c *Client) ListAllCompanies(ctx context.Context) ([]models.Company, error) {
	if c.role == RoleUser {
		items, _, err := call[[]models.Company](ctx, c, http.MethodGet, "/user/get-all-company", false, unpaged, "Failed to load company list")
		return items, err
	}
	return listAll[models.Company](ctx, c, companies)
}

func (c *Client) GetCompany(ctx context.Context, id string) (models.Company, error) {
	return detail[models.Company](ctx, c, companies, id)
}

func (c *Client) CreateCompany(ctx context.Context, form validation.CompanyForm) (models.Company, error) {
	return create[models.Company](ctx, c, companies, form)
}

func (c *Client) UpdateCompany(ctx context.Context, id string, form validation.CompanyForm) (models.Company, error) {
	return update[models.Company](ctx, c, companies, id, form)
}

func (c *Client) DeleteCompany(ctx context.Context, id string) error {
	return remove(ctx, c, companies, id)
}

// ---- lockers ----

func (c *Client) ListLockers(ctx context.Context, page, perPage int) (models.Page[models.Locker], error) {
	return listPage[models.Locker](ctx, c, lockers, page, perPage)
}

func (c *Client) ListAllLockers(ctx context.Context) ([]models.Locker, error) {
	return listAll[models.Locker](ctx, c, lockers)
}

func (c *Client) GetLocker(ctx context.Context, id string) (models.Locker, error) {
	return detail[models.Locker](ctx, c, lockers, id)
}

func (c *Client) CreateLocker(ctx context.Context, form validation.LockerForm) (models.Locker, error) {
	return create[models.Locker](ctx, c, lockers, form)
}

func (c *Client) UpdateLocker(ctx context.Context, id string, form validation.LockerForm) (models.Locker, error) {
	return update[models.Locker](ctx, c, lockers, id, form)
}

func (c *Client) DeleteLocker(ctx context.Context, id string) error {
	return remove(ctx, c, lockers, id)
}

// ---- recipients ----

func (c *Client) ListRecipients(ctx context.Context, page, perPage int) (models.Page[models.Recipient], error) {
	return listPage[models.Recipient](ctx, c, recipients, page, perPage)
}

func (c *Client) ListAllRecipients(ctx context.Context) ([]models.Recipient, error) {
	return listAll[models.Recipient](ctx, c, recipients)
}

func (c *Client) GetRecipient(ctx context.Context, id string) (models.Recipient, error) {
	return detail[models.Recipient](ctx, c, recipients, id)
}

func (c *Client) CreateRecipient(ctx context.Context, form validation.RecipientForm) (models.Recipient, error) {
	return create[models.Recipient](ctx, c, recipients, form)
}

func (c *Client) UpdateRecipient(ctx context.Context, id string, form validation.RecipientForm) (models.Recipient, error) {
	return update[models.Recipient](ctx, c, recipients, id, form)
}

func (c *Client) DeleteRecipient(ctx context.Context, id string) error {
	return remove(ctx, c, recipients, id)
}

// ---- senders ----

func (c *Client) ListSenders(ctx context.Context, page, perPage int) (models.Page[models.Sender], error) {
	return listPage[models.Sender](ctx, c, senders, page, perPage)
}

func (c *Client) ListAllSenders(ctx context.Context) ([]models.Sender, error) {
	return listAll[models.Sender](ctx, c, senders)
}

func (c *Client) GetSender(ctx context.Context, id string) (models.Sender, error) {
	return detail[models.Sender](ctx, c, senders, id)
}

func (c *Client) CreateSender(ctx context.Context, form validation.SenderForm) (models.Sender, error) {
	return create[models.Sender](ctx, c, senders, form)
}

func (c *Client) UpdateSender(ctx context.Context, id string, form validation.SenderForm) (models.Sender, error) {
	return update[models.Sender](ctx, c, senders, id, form)
}

func (c *Client) DeleteSender(ctx context.Context, id string) error {
	return remove(ctx, c, senders, id)
}

// ---- users ----

func (c *Client) ListUsers(ctx context.Context, page, perPage int) (models.Page[models.User], error) {
	return listPage[models.User](ctx, c, users, page, perPage)
}

func (c *Client) ListAllUsers(ctx context.Context) ([]models.User, error) {
	return listAll[models.User](ctx, c, users)
}

func (c *Client) GetUser(ctx context.Context, id string) (models.User, error) {
	return detail[models.User](ctx, c, users, id)
}

func (c *Client) CreateUser(ctx context.Context, form validation.UserForm) (models.User, error) {
	return create[models.User](ctx, c, users, form)
}

func (c *Client) UpdateUser(ctx context.Context, id string, form validation.UserForm) (models.User, error) {
	return update[models.User](ctx, c, users, id, form)
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return remove(ctx, c, users, id)
}

// ---- 用户端 profile ----

func (c *Client) GetProfile(ctx context.Context) (models.User, error) {
	u, _, err := call[models.User](ctx, c, http.MethodGet, "/user/get-detail-user", true, nil, "Failed to load profile")
	return u, err
}

// ProfileForm 用户端修改资料（字段均可选）
type ProfileForm struct {
	Name    string `json:"user_name,omitempty" validate:"omitempty,min=3"`
	Email   string `json:"user_email,omitempty" validate:"omitempty,email"`
	Phone   string `json:"user_phone_number,omitempty" validate:"omitempty,idphone"`
	Address string `json:"user_address,omitempty" validate:"omitempty,min=5"`
}

func (c *Client) UpdateProfile(ctx context.Context, form ProfileForm) (models.User, error) {
	if err := validation.Validate(form); err != nil {
		return models.User{}, err
	}
	u, _, err := call[models.User](ctx, c, http.MethodPatch, "/user/update-user", true, jsonBody(form), "Failed to update profile")
	return u, err
}
