package stubregistry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"titipanq-admin/internal/label"
	"titipanq-admin/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("failed invalid package status transition")
)

// expireAfter 没有设置 package_expired_at 的包裹，received 超过 90 天自动过期
const expireAfter = 90 * 24 * time.Hour

// Registry 内存版 registry（DB 未就绪 / 本地联调 / 测试使用）
type Registry struct {
	mu         sync.RWMutex
	packages   map[string]*models.Package
	order      []string // 创建顺序
	histories  map[string][]models.PackageHistory
	companies  map[string]models.Company
	lockers    map[string]models.Locker
	recipients map[string]models.Recipient
	senders    map[string]models.Sender
	users      map[string]models.User
	passwords  map[string]string // email -> password
	now        func() time.Time
}

func New() *Registry {
	return &Registry{
		packages:   map[string]*models.Package{},
		histories:  map[string][]models.PackageHistory{},
		companies:  map[string]models.Company{},
		lockers:    map[string]models.Locker{},
		recipients: map[string]models.Recipient{},
		senders:    map[string]models.Sender{},
		users:      map[string]models.User{},
		passwords:  map[string]string{},
		now:        time.Now,
	}
}

// SetClock 测试中固定时间
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}

// ---- users / auth ----

// AddUser 添加用户；password 非空时可登录
func (r *Registry) AddUser(u models.User, password string) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = newID("usr")
	}
	if c, ok := r.companies[u.Company.ID]; ok {
		u.Company = c
	}
	r.users[u.ID] = u
	if password != "" {
		r.passwords[u.Email] = password
	}
	return u
}

// Authenticate 校验邮箱密码，返回用户
func (r *Registry) Authenticate(email, password string) (models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.passwords[email]; !ok || p != password {
		return models.User{}, false
	}
	for _, u := range r.users {
		if u.Email == email {
			return u, true
		}
	}
	return models.User{}, false
}

// EmailTaken 邮箱是否已注册
func (r *Registry) EmailTaken(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return true
		}
	}
	return false
}

func (r *Registry) User(id string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (r *Registry) Users() []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) UpdateUser(id string, patch models.User) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if patch.Name != "" {
		u.Name = patch.Name
	}
	if patch.Email != "" {
		u.Email = patch.Email
	}
	if patch.Phone != "" {
		u.Phone = patch.Phone
	}
	if patch.Address != "" {
		u.Address = patch.Address
	}
	if patch.Company.ID != "" {
		if c, ok := r.companies[patch.Company.ID]; ok {
			u.Company = c
		}
	}
	r.users[id] = u
	return u, nil
}

func (r *Registry) DeleteUser(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	delete(r.passwords, u.Email)
	delete(r.users, id)
	return nil
}

// ---- simple entities ----

func (r *Registry) AddCompany(c models.Company) models.Company {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = newID("cmp")
	}
	r.companies[c.ID] = c
	return c
}

func (r *Registry) AddLocker(l models.Locker) models.Locker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == "" {
		l.ID = newID("lck")
	}
	r.lockers[l.ID] = l
	return l
}

func (r *Registry) AddRecipient(rc models.Recipient) models.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc.ID == "" {
		rc.ID = newID("rec")
	}
	r.recipients[rc.ID] = rc
	return rc
}

func (r *Registry) AddSender(s models.Sender) models.Sender {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = newID("snd")
	}
	r.senders[s.ID] = s
	return s
}

func (r *Registry) Companies() []models.Company {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Company, 0, len(r.companies))
	for _, c := range r.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Lockers() []models.Locker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Locker, 0, len(r.lockers))
	for _, l := range r.lockers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *Registry) Recipients() []models.Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Recipient, 0, len(r.recipients))
	for _, rc := range r.recipients {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Senders() []models.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Sender, 0, len(r.senders))
	for _, s := range r.senders {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Company(id string) (models.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.companies[id]
	if !ok {
		return c, fmt.Errorf("company %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (r *Registry) Locker(id string) (models.Locker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lockers[id]
	if !ok {
		return l, fmt.Errorf("locker %s: %w", id, ErrNotFound)
	}
	return l, nil
}

func (r *Registry) Recipient(id string) (models.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.recipients[id]
	if !ok {
		return rc, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	return rc, nil
}

func (r *Registry) Sender(id string) (models.Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[id]
	if !ok {
		return s, fmt.Errorf("sender %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// PutCompany 更新（id 必须存在）
func (r *Registry) PutCompany(c models.Company) (models.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.companies[c.ID]
	if !ok {
		return c, fmt.Errorf("company %s: %w", c.ID, ErrNotFound)
	}
	if c.Name == "" {
		c.Name = old.Name
	}
	if c.Address == "" {
		c.Address = old.Address
	}
	r.companies[c.ID] = c
	return c, nil
}

func (r *Registry) PutLocker(l models.Locker) (models.Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.lockers[l.ID]
	if !ok {
		return l, fmt.Errorf("locker %s: %w", l.ID, ErrNotFound)
	}
	if l.Code == "" {
		l.Code = old.Code
	}
	if l.Location == "" {
		l.Location = old.Location
	}
	r.lockers[l.ID] = l
	return l, nil
}

func (r *Registry) PutRecipient(rc models.Recipient) (models.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.recipients[rc.ID]
	if !ok {
		return rc, fmt.Errorf("recipient %s: %w", rc.ID, ErrNotFound)
	}
	if rc.Name == "" {
		rc.Name = old.Name
	}
	if rc.Email == "" {
		rc.Email = old.Email
	}
	if rc.Phone == "" {
		rc.Phone = old.Phone
	}
	r.recipients[rc.ID] = rc
	return rc, nil
}

func (r *Registry) PutSender(s models.Sender) (models.Sender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.senders[s.ID]
	if !ok {
		return s, fmt.Errorf("sender %s: %w", s.ID, ErrNotFound)
	}
	if s.Name == "" {
		s.Name = old.Name
	}
	if s.Phone == "" {
		s.Phone = old.Phone
	}
	if s.Address == "" {
		s.Address = old.Address
	}
	r.senders[s.ID] = s
	return s, nil
}

// DeleteEntity 删除 company / locker / recipient / sender
func (r *Registry) DeleteEntity(kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found bool
	switch kind {
	case "company":
		_, found = r.companies[id]
		delete(r.companies, id)
	case "locker":
		_, found = r.lockers[id]
		delete(r.lockers, id)
	case "recipient":
		_, found = r.recipients[id]
		delete(r.recipients, id)
	case "sender":
		_, found = r.senders[id]
		delete(r.senders, id)
	}
	if !found {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// ---- packages ----

// PackageInput 新建/编辑包裹的输入
type PackageInput struct {
	Description  string
	TrackingCode string
	Type         models.PackageType
	Quantity     int
	UserID       string
	LockerID     string
	SenderID     string
	Image        string
}

// CreatePackage 新建包裹，初始状态 received，并写一条 history
func (r *Registry) CreatePackage(in PackageInput, changedBy string) (models.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !models.IsValidType(in.Type) {
		return models.Package{}, errors.New("failed invalid package type")
	}
	user, ok := r.users[in.UserID]
	if !ok {
		return models.Package{}, fmt.Errorf("user %s: %w", in.UserID, ErrNotFound)
	}
	now := r.now()
	if in.TrackingCode == "" {
		in.TrackingCode = label.TrackingCode(now)
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}
	p := &models.Package{
		ID:           newID("pkg"),
		TrackingCode: in.TrackingCode,
		BarcodeImage: label.FileName(in.TrackingCode),
		Description:  in.Description,
		Image:        in.Image,
		Type:         in.Type,
		Quantity:     in.Quantity,
		Status:       models.StatusReceived,
		User:         user,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if l, ok := r.lockers[in.LockerID]; ok {
		p.Locker = &l
	}
	if s, ok := r.senders[in.SenderID]; ok {
		p.Sender = &s
	}
	r.packages[p.ID] = p
	r.order = append(r.order, p.ID)
	r.appendHistoryLocked(p.ID, models.StatusReceived, changedBy, now)
	return *p, nil
}

// PutPackage 直接放入一个包裹快照（测试构造数据）
func (r *Registry) PutPackage(p models.Package) models.Package {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = newID("pkg")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if _, exists := r.packages[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	cp := p
	r.packages[p.ID] = &cp
	return cp
}

func (r *Registry) Package(id string) (models.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packages[id]
	if !ok {
		return models.Package{}, fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	return *p, nil
}

// Packages 按创建时间倒序；userID 非空时只返回该用户的包裹
func (r *Registry) Packages(userID string) []models.Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Package, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		p := r.packages[r.order[i]]
		if userID != "" && p.User.ID != userID {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func (r *Registry) UpdatePackage(id string, in PackageInput) (models.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[id]
	if !ok {
		return models.Package{}, fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	if in.Description != "" {
		p.Description = in.Description
	}
	if in.TrackingCode != "" {
		p.TrackingCode = in.TrackingCode
		p.BarcodeImage = label.FileName(in.TrackingCode)
	}
	if in.Type != "" {
		if !models.IsValidType(in.Type) {
			return models.Package{}, errors.New("failed invalid package type")
		}
		p.Type = in.Type
	}
	if in.Quantity > 0 {
		p.Quantity = in.Quantity
	}
	if in.Image != "" {
		p.Image = in.Image
	}
	if l, ok := r.lockers[in.LockerID]; ok {
		p.Locker = &l
	}
	if s, ok := r.senders[in.SenderID]; ok {
		p.Sender = &s
	}
	if u, ok := r.users[in.UserID]; ok {
		p.User = u
	}
	p.UpdatedAt = r.now()
	return *p, nil
}

func (r *Registry) DeletePackage(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[id]; !ok {
		return fmt.Errorf("package %s: %w", id, ErrNotFound)
	}
	delete(r.packages, id)
	delete(r.histories, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// CompletePackages 批量取件：整批校验通过才修改（任一包裹不可迁移则整批拒绝）
func (r *Registry) CompletePackages(ids []string, recipientID, proofImage, changedBy string) ([]models.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(ids) == 0 {
		return nil, errors.New("failed missing required field: package_ids")
	}
	rc, ok := r.recipients[recipientID]
	if !ok {
		return nil, fmt.Errorf("recipient %s: %w", recipientID, ErrNotFound)
	}
	for _, id := range ids {
		p, ok := r.packages[id]
		if !ok {
			return nil, fmt.Errorf("package %s: %w", id, ErrNotFound)
		}
		if !models.CanTransition(p.Status, models.StatusCompleted) {
			return nil, fmt.Errorf("package %s is %s: %w", id, p.Status, ErrInvalidTransition)
		}
	}

	now := r.now()
	out := make([]models.Package, 0, len(ids))
	for _, id := range ids {
		p := r.packages[id]
		p.Status = models.StatusCompleted
		p.CompletedAt = &now
		p.UpdatedAt = now
		recipient := rc
		p.Recipient = &recipient
		if proofImage != "" {
			p.ProofImage = proofImage
		}
		r.appendHistoryLocked(id, models.StatusCompleted, changedBy, now)
		out = append(out, *p)
	}
	return out, nil
}

// ExpirePackages 超过期限仍是 received 的包裹改为 expired，返回数量
func (r *Registry) ExpirePackages(changedBy string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for _, id := range r.order {
		p := r.packages[id]
		if !models.CanTransition(p.Status, models.StatusExpired) {
			continue
		}
		deadline := p.CreatedAt.Add(expireAfter)
		if p.ExpiredAt != nil {
			deadline = *p.ExpiredAt
		}
		if now.Before(deadline) {
			continue
		}
		p.Status = models.StatusExpired
		p.ExpiredAt = &deadline
		p.UpdatedAt = now
		r.appendHistoryLocked(id, models.StatusExpired, changedBy, now)
		n++
	}
	return n
}

// History 按 created_at 升序
func (r *Registry) History(packageID string) ([]models.PackageHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.packages[packageID]; !ok {
		return nil, fmt.Errorf("package %s: %w", packageID, ErrNotFound)
	}
	h := r.histories[packageID]
	out := make([]models.PackageHistory, len(h))
	copy(out, h)
	return out, nil
}

func (r *Registry) appendHistoryLocked(packageID string, status models.PackageStatus, changedBy string, at time.Time) {
	by := models.ChangedBy{ID: changedBy}
	if u, ok := r.users[changedBy]; ok {
		by.Name = u.Name
		by.Email = u.Email
	}
	r.histories[packageID] = append(r.histories[packageID], models.PackageHistory{
		ID:        newID("his"),
		Status:    status,
		ChangedBy: by,
		CreatedAt: at,
	})
}
