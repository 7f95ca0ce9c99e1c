package validation

// 各表单的校验结构。规则与 registry 前端表单一致

// LoginForm 登录
type LoginForm struct {
	Email    string `json:"user_email" validate:"required,email"`
	Password string `json:"user_password" validate:"required,min=3"`
}

// RegisterForm 租户用户自助注册
type RegisterForm struct {
	Name      string `json:"user_name" validate:"required,min=3"`
	Email     string `json:"user_email" validate:"required,email"`
	Phone     string `json:"user_phone_number" validate:"required,idphone"`
	Password  string `json:"user_password" validate:"required,min=3"`
	Address   string `json:"user_address" validate:"required,min=5"`
	CompanyID string `json:"company_id" validate:"required"`
}

// UpdateStatusForm 批量取件（状态更新）
type UpdateStatusForm struct {
	PackageIDs  []string `json:"package_ids" validate:"min=1,dive,required"`
	RecipientID string   `json:"recipient_id" validate:"required"`
}

// PackageForm 新建/编辑包裹
type PackageForm struct {
	Description  string `json:"package_description" validate:"required,min=1"`
	TrackingCode string `json:"package_tracking_code" validate:"omitempty,max=64"`
	Type         string `json:"package_type" validate:"required,oneof=document item other"`
	Quantity     int    `json:"package_quantity" validate:"gte=1"`
	UserID       string `json:"user_id" validate:"required"`
	LockerID     string `json:"locker_id" validate:"omitempty"`
	SenderID     string `json:"sender_id" validate:"omitempty"`
}

// RecipientForm 取件人
type RecipientForm struct {
	Name  string `json:"recipient_name" validate:"required,min=3"`
	Email string `json:"recipient_email" validate:"required,email"`
	Phone string `json:"recipient_phone_number" validate:"required,idphone"`
}

// SenderForm 寄件人
type SenderForm struct {
	Name    string `json:"sender_name" validate:"required,min=3"`
	Address string `json:"sender_address" validate:"required,min=5"`
	Phone   string `json:"sender_phone_number" validate:"required,idphone"`
}

// LockerForm 存放柜
type LockerForm struct {
	Code     string `json:"locker_code" validate:"required,min=3"`
	Location string `json:"location" validate:"required,min=1"`
}

// CompanyForm 公司
type CompanyForm struct {
	Name    string `json:"company_name" validate:"required,min=5"`
	Address string `json:"company_address" validate:"required,min=8"`
}

// UserForm 管理员创建用户
type UserForm struct {
	Name      string `json:"user_name" validate:"required,min=2"`
	Email     string `json:"user_email" validate:"required,email"`
	Password  string `json:"user_password" validate:"required,min=6"`
	Phone     string `json:"user_phone_number" validate:"required,idphone"`
	Address   string `json:"user_address" validate:"required,min=5"`
	CompanyID string `json:"company_id" validate:"required"`
}
