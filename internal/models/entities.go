package models

// Role 用户角色
type Role struct {
	ID   string `json:"role_id"`
	Name string `json:"role_name"`
}

// Company 租户公司
type Company struct {
	ID      string `json:"company_id"`
	Name    string `json:"company_name"`
	Address string `json:"company_address"`
}

// User 租户用户（包裹的收件人账户）
type User struct {
	ID      string  `json:"user_id"`
	Name    string  `json:"user_name"`
	Email   string  `json:"user_email"`
	Phone   string  `json:"user_phone_number"`
	Address string  `json:"user_address"`
	Company Company `json:"company"`
	Role    Role    `json:"role"`
}

// Locker 存放柜
type Locker struct {
	ID       string `json:"locker_id"`
	Code     string `json:"locker_code"`
	Location string `json:"location"`
}

// Recipient 取件人（到柜台实际领取的人，可能不是 User 本人）
type Recipient struct {
	ID    string `json:"recipient_id"`
	Name  string `json:"recipient_name"`
	Email string `json:"recipient_email"`
	Phone string `json:"recipient_phone_number"`
}

// Sender 寄件人
type Sender struct {
	ID      string `json:"sender_id"`
	Name    string `json:"sender_name"`
	Phone   string `json:"sender_phone_number"`
	Address string `json:"sender_address"`
}

// Tokens login 返回的 token 对
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshedToken refresh-token 接口只返回新的 access_token
type RefreshedToken struct {
	AccessToken string `json:"access_token"`
}
