package models

import "time"

// PackageType 包裹类型
type PackageType string

// PackageStatus 包裹状态
type PackageStatus string

const (
	PackageTypeDocument PackageType = "document"
	PackageTypeItem     PackageType = "item"
	PackageTypeOther    PackageType = "other"
)

const (
	StatusReceived  PackageStatus = "received"
	StatusDelivered PackageStatus = "delivered"
	StatusCompleted PackageStatus = "completed"
	StatusExpired   PackageStatus = "expired"
)

// IsValidType 检查包裹类型
func IsValidType(t PackageType) bool {
	return t == PackageTypeDocument || t == PackageTypeItem || t == PackageTypeOther
}

// IsValidStatus 检查包裹状态
func IsValidStatus(s PackageStatus) bool {
	return s == StatusReceived || s == StatusDelivered || s == StatusCompleted || s == StatusExpired
}

// transitions 允许的状态迁移。expired 只能由后端按时间策略从 received 迁入。
var transitions = map[PackageStatus][]PackageStatus{
	StatusReceived:  {StatusDelivered, StatusCompleted, StatusExpired},
	StatusDelivered: {StatusCompleted},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to PackageStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal completed / expired 之后不再迁移
func IsTerminal(s PackageStatus) bool {
	return len(transitions[s]) == 0
}

// Package 包裹（registry 返回的快照）
type Package struct {
	ID           string        `json:"package_id"`
	TrackingCode string        `json:"package_tracking_code"`
	Description  string        `json:"package_description"`
	Image        string        `json:"package_image"`
	BarcodeImage string        `json:"package_barcode_image,omitempty"`
	ProofImage   string        `json:"package_proof_image,omitempty"`
	Type         PackageType   `json:"package_type"`
	Quantity     int           `json:"package_quantity"`
	Status       PackageStatus `json:"package_status"`
	CompletedAt  *time.Time    `json:"package_completed_at,omitempty"`
	DeliveredAt  *time.Time    `json:"package_delivered_at,omitempty"`
	ExpiredAt    *time.Time    `json:"package_expired_at,omitempty"`
	User         User          `json:"user"`
	Locker       *Locker       `json:"locker,omitempty"`
	Sender       *Sender       `json:"sender,omitempty"`
	Recipient    *Recipient    `json:"recipient,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CompanyID 包裹所属租户公司，无公司时为空
func (p *Package) CompanyID() string {
	return p.User.Company.ID
}

// LockerID 包裹所在柜子，未分配时为空
func (p *Package) LockerID() string {
	if p.Locker == nil {
		return ""
	}
	return p.Locker.ID
}

// ChangedBy history 中的操作人
type ChangedBy struct {
	ID    string `json:"user_id"`
	Name  string `json:"user_name"`
	Email string `json:"user_email"`
}

// PackageHistory 包裹状态变更记录（只追加，不修改）
type PackageHistory struct {
	ID        string        `json:"history_id"`
	Status    PackageStatus `json:"history_status"`
	ChangedBy ChangedBy     `json:"changed_by"`
	CreatedAt time.Time     `json:"created_at"`
}
