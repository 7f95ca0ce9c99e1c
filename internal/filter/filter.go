// Package filter 对已拉取的列表做搜索/过滤/排序，都是纯函数，不修改输入。
package filter

import (
	"sort"
	"strings"
	"time"

	"titipanq-admin/internal/models"
)

// StatusAll 状态过滤的"全部"哨兵值
const StatusAll = "all"

// SortOrder 排序方式
type SortOrder string

const (
	SortNewest      SortOrder = "newest"
	SortOldest      SortOrder = "oldest"
	SortDescription SortOrder = "description"
)

// PackageField 文本搜索可用的包裹字段
type PackageField func(p *models.Package) string

var (
	FieldDescription  PackageField = func(p *models.Package) string { return p.Description }
	FieldTrackingCode PackageField = func(p *models.Package) string { return p.TrackingCode }
	FieldUserName     PackageField = func(p *models.Package) string { return p.User.Name }
	FieldCompanyName  PackageField = func(p *models.Package) string { return p.User.Company.Name }
	FieldLockerCode   PackageField = func(p *models.Package) string {
		if p.Locker == nil {
			return ""
		}
		return p.Locker.Code
	}
)

// DefaultPackageFields 管理端搜索框默认匹配的字段
var DefaultPackageFields = []PackageField{FieldDescription, FieldTrackingCode, FieldUserName}

func matchAny(query string, values ...string) bool {
	if query == "" {
		return true
	}
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), query) {
			return true
		}
	}
	return false
}

func normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// ByText 大小写不敏感的子串匹配；空 query 匹配全部；fields 为空时使用描述字段
func ByText(pkgs []models.Package, query string, fields ...PackageField) []models.Package {
	q := normalize(query)
	if len(fields) == 0 {
		fields = []PackageField{FieldDescription}
	}
	out := make([]models.Package, 0, len(pkgs))
	for i := range pkgs {
		values := make([]string, len(fields))
		for j, f := range fields {
			values[j] = f(&pkgs[i])
		}
		if matchAny(q, values...) {
			out = append(out, pkgs[i])
		}
	}
	return out
}

// ByStatus 精确匹配；"" 或 "all" 匹配全部
func ByStatus(pkgs []models.Package, status string) []models.Package {
	if status == "" || status == StatusAll {
		return append([]models.Package(nil), pkgs...)
	}
	out := make([]models.Package, 0, len(pkgs))
	for _, p := range pkgs {
		if string(p.Status) == status {
			out = append(out, p)
		}
	}
	return out
}

// ByDate created_at 的 ISO 字符串前缀匹配，date 形如 2025-06-01；空 date 匹配全部
func ByDate(pkgs []models.Package, date string) []models.Package {
	date = strings.TrimSpace(date)
	out := make([]models.Package, 0, len(pkgs))
	for _, p := range pkgs {
		if date == "" || strings.HasPrefix(p.CreatedAt.Format(time.RFC3339), date) {
			out = append(out, p)
		}
	}
	return out
}

// ByCompany 按租户公司过滤；空 id 匹配全部
func ByCompany(pkgs []models.Package, companyID string) []models.Package {
	out := make([]models.Package, 0, len(pkgs))
	for i := range pkgs {
		if companyID == "" || pkgs[i].CompanyID() == companyID {
			out = append(out, pkgs[i])
		}
	}
	return out
}

// SortPackages 稳定排序，相等的 key 保持原顺序；未知 order 原样返回副本
func SortPackages(pkgs []models.Package, order SortOrder) []models.Package {
	out := append([]models.Package(nil), pkgs...)
	switch order {
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case SortDescription:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Description < out[j].Description })
	}
	return out
}

// PackageQuery 列表页的组合条件
type PackageQuery struct {
	Text      string
	Status    string
	Date      string
	CompanyID string
	Sort      SortOrder
}

// Apply 依次应用文本/状态/日期/公司过滤，再排序
func (q PackageQuery) Apply(pkgs []models.Package) []models.Package {
	out := ByText(pkgs, q.Text, DefaultPackageFields...)
	out = ByStatus(out, q.Status)
	out = ByDate(out, q.Date)
	out = ByCompany(out, q.CompanyID)
	if q.Sort != "" {
		out = SortPackages(out, q.Sort)
	}
	return out
}

// Lockers 按 code / location 搜索
func Lockers(lockers []models.Locker, query string) []models.Locker {
	q := normalize(query)
	out := make([]models.Locker, 0, len(lockers))
	for _, l := range lockers {
		if matchAny(q, l.Code, l.Location) {
			out = append(out, l)
		}
	}
	return out
}

// Recipients 按姓名搜索（取件人下拉框）
func Recipients(recipients []models.Recipient, query string) []models.Recipient {
	q := normalize(query)
	out := make([]models.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if matchAny(q, r.Name) {
			out = append(out, r)
		}
	}
	return out
}

// Users 按姓名/邮箱搜索
func Users(users []models.User, query string) []models.User {
	q := normalize(query)
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if matchAny(q, u.Name, u.Email) {
			out = append(out, u)
		}
	}
	return out
}

// Paginate 客户端分页；page 从 1 开始
func Paginate[T any](items []T, page, perPage int) ([]T, models.Meta) {
	if perPage <= 0 {
		perPage = 10
	}
	if page <= 0 {
		page = 1
	}
	count := len(items)
	maxPage := (count + perPage - 1) / perPage
	if maxPage == 0 {
		maxPage = 1
	}
	start := (page - 1) * perPage
	if start > count {
		start = count
	}
	end := start + perPage
	if end > count {
		end = count
	}
	return items[start:end], models.Meta{Page: page, PerPage: perPage, MaxPage: maxPage, Count: count}
}
