package stubregistry

import (
	"time"

	"titipanq-admin/internal/models"
)

// Seed 本地联调用的演示数据
// admin: admin@titipanq.com / admin123，user: budi@example.com / user1234
func Seed(r *Registry) error {
	admin := r.AddUser(models.User{
		ID:    "usr_admin",
		Name:  "Admin TitipanQ",
		Email: "admin@titipanq.com",
		Role:  models.Role{ID: "role_admin", Name: RoleAdmin},
	}, "admin123")

	acme := r.AddCompany(models.Company{ID: "cmp_acme", Name: "PT Acme Indonesia", Address: "Jl. Sudirman No. 10, Jakarta"})
	nusa := r.AddCompany(models.Company{ID: "cmp_nusa", Name: "CV Nusantara Jaya", Address: "Jl. Gatot Subroto No. 5, Bandung"})

	budi := r.AddUser(models.User{
		ID:      "usr_budi",
		Name:    "Budi Santoso",
		Email:   "budi@example.com",
		Phone:   "081234567890",
		Address: "Jl. Melati No. 3",
		Company: acme,
		Role:    models.Role{ID: "role_user", Name: RoleUser},
	}, "user1234")
	sari := r.AddUser(models.User{
		ID:      "usr_sari",
		Name:    "Sari Wulandari",
		Email:   "sari@example.com",
		Phone:   "085712345678",
		Address: "Jl. Kenanga No. 8",
		Company: nusa,
		Role:    models.Role{ID: "role_user", Name: RoleUser},
	}, "user1234")

	l1 := r.AddLocker(models.Locker{ID: "lck_a01", Code: "A-01", Location: "Lobby"})
	r.AddLocker(models.Locker{ID: "lck_a02", Code: "A-02", Location: "Lobby"})
	r.AddLocker(models.Locker{ID: "lck_b01", Code: "B-01", Location: "Lantai 2"})

	r.AddRecipient(models.Recipient{ID: "rec_budi", Name: "Budi Santoso", Email: "budi@example.com", Phone: "081234567890"})
	r.AddRecipient(models.Recipient{ID: "rec_andi", Name: "Andi Pratama", Email: "andi@example.com", Phone: "081398765432"})

	jne := r.AddSender(models.Sender{ID: "snd_jne", Name: "JNE Express", Phone: "02129278888", Address: "Jl. Tomang Raya No. 11"})
	r.AddSender(models.Sender{ID: "snd_sicepat", Name: "SiCepat", Phone: "02150200050", Address: "Jl. Kebon Jeruk No. 7"})

	inputs := []struct {
		in    PackageInput
		owner models.User
	}{
		{PackageInput{Description: "Invoice Q1", Type: models.PackageTypeDocument, Quantity: 1, LockerID: l1.ID, SenderID: jne.ID}, budi},
		{PackageInput{Description: "Laptop charger", Type: models.PackageTypeItem, Quantity: 1, SenderID: jne.ID}, budi},
		{PackageInput{Description: "Old invoice", Type: models.PackageTypeDocument, Quantity: 2, LockerID: l1.ID}, sari},
	}
	base := time.Now().Add(-time.Hour)
	for i, p := range inputs {
		p.in.UserID = p.owner.ID
		p.in.TrackingCode = "PACK" + base.Add(time.Duration(i)*time.Minute).Format("060102150405")
		if _, err := r.CreatePackage(p.in, admin.ID); err != nil {
			return err
		}
	}
	return nil
}
