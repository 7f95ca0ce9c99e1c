package filter

import (
	"sync"

	"titipanq-admin/internal/models"
)

// CountByStatus 每种状态的包裹数量（dashboard）
func CountByStatus(pkgs []models.Package) map[models.PackageStatus]int {
	out := map[models.PackageStatus]int{
		models.StatusReceived:  0,
		models.StatusDelivered: 0,
		models.StatusCompleted: 0,
		models.StatusExpired:   0,
	}
	for _, p := range pkgs {
		out[p.Status]++
	}
	return out
}

// UnclaimedByCompany 某公司未领取（received）的包裹数，每次全量过滤
func UnclaimedByCompany(pkgs []models.Package, companyID string) int {
	n := 0
	for i := range pkgs {
		if pkgs[i].Status == models.StatusReceived && pkgs[i].CompanyID() == companyID {
			n++
		}
	}
	return n
}

// OccupiedLockers 放有 received 包裹的柜子数
func OccupiedLockers(pkgs []models.Package) int {
	seen := map[string]struct{}{}
	for i := range pkgs {
		if id := pkgs[i].LockerID(); id != "" && pkgs[i].Status == models.StatusReceived {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Index company / locker -> received 数量。每次拉取列表后 Rebuild，读取为 O(1)。
type Index struct {
	mu        sync.RWMutex
	byCompany map[string]int
	byLocker  map[string]int
	byStatus  map[models.PackageStatus]int
}

func NewIndex() *Index {
	return &Index{
		byCompany: map[string]int{},
		byLocker:  map[string]int{},
		byStatus:  map[models.PackageStatus]int{},
	}
}

// Rebuild 用最新拉取的列表替换索引
func (x *Index) Rebuild(pkgs []models.Package) {
	byCompany := map[string]int{}
	byLocker := map[string]int{}
	byStatus := map[models.PackageStatus]int{}
	for i := range pkgs {
		p := &pkgs[i]
		byStatus[p.Status]++
		if p.Status != models.StatusReceived {
			continue
		}
		if id := p.CompanyID(); id != "" {
			byCompany[id]++
		}
		if id := p.LockerID(); id != "" {
			byLocker[id]++
		}
	}

	x.mu.Lock()
	x.byCompany, x.byLocker, x.byStatus = byCompany, byLocker, byStatus
	x.mu.Unlock()
}

// Unclaimed 公司未领取数量
func (x *Index) Unclaimed(companyID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.byCompany[companyID]
}

// LockerLoad 柜子中 received 包裹数量
func (x *Index) LockerLoad(lockerID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.byLocker[lockerID]
}

func (x *Index) OccupiedLockers() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byLocker)
}

func (x *Index) StatusCount(s models.PackageStatus) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.byStatus[s]
}
